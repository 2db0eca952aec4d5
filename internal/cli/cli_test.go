package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/turntimer/internal/api/request"
	"github.com/mcoot/turntimer/internal/api/response"
	"github.com/mcoot/turntimer/internal/api/ws"
)

type CLISuite struct {
	suite.Suite
}

func TestCLISuite(t *testing.T) {
	suite.Run(t, new(CLISuite))
}

func (s *CLISuite) TestParsePlayer() {
	cases := map[string]request.PlayerRequest{
		"Alice":          {Name: "Alice"},
		"Alice=#ff0000":  {Name: "Alice", Color: "#ff0000"},
		"@u-42":          {UserID: "u-42"},
		"@u-42=#00ff00 ": {UserID: "u-42", Color: "#00ff00"},
	}
	for spec, want := range cases {
		got, err := parsePlayer(spec)
		s.Require().NoError(err, spec)
		s.Equal(want, got, spec)
	}

	for _, bad := range []string{"", "@", "=#ff0000"} {
		_, err := parsePlayer(bad)
		s.Error(err, bad)
	}
}

func (s *CLISuite) TestParseContext() {
	ref, err := parseContext("event/chess-night")
	s.Require().NoError(err)
	s.Equal(&request.ContextRequest{Kind: "event", ID: "chess-night"}, ref)

	for _, bad := range []string{"event", "/id", "game/"} {
		_, err := parseContext(bad)
		s.Error(err, bad)
	}
}

func (s *CLISuite) TestParseTurnOrders() {
	orders, err := parseTurnOrders([]string{"p1=1", "p2=0"})
	s.Require().NoError(err)
	s.Equal([]ws.TurnOrder{{PlayerID: "p1", TurnOrder: 1}, {PlayerID: "p2", TurnOrder: 0}}, orders)

	_, err = parseTurnOrders([]string{"p1"})
	s.Error(err)
	_, err = parseTurnOrders([]string{"p1=first"})
	s.Error(err)
}

func (s *CLISuite) TestTokenRoundTrip() {
	c := &Config{TokenFile: filepath.Join(s.T().TempDir(), "nested", "token")}

	s.Require().NoError(c.LoadToken())
	s.Empty(c.Token)

	s.Require().NoError(c.SaveToken("sess_abc"))
	loaded := &Config{TokenFile: c.TokenFile}
	s.Require().NoError(loaded.LoadToken())
	s.Equal("sess_abc", loaded.Token)

	s.Require().NoError(c.ClearToken())
	_, err := os.Stat(c.TokenFile)
	s.True(errors.Is(err, os.ErrNotExist))
	s.NoError(c.ClearToken())
}

func (s *CLISuite) TestTimerText() {
	var out bytes.Buffer
	inc := int64(5000)
	NewOutput("text", &out, &out).Print(response.Timer{
		ID:              "t1",
		Type:            "RELOAD",
		InitialDuration: 60000,
		ReloadIncrement: &inc,
		CurrentPlayer:   1,
		Version:         4,
		Context:         &response.Context{Kind: "game", ID: "g1"},
		Players: []response.Player{
			{ID: "p1", Name: "Alice", TurnOrder: 0, Elapsed: 12000},
			{ID: "p2", UserID: "u-2", TurnOrder: 1, Elapsed: 1500},
		},
	})

	text := out.String()
	s.Contains(text, "Timer: t1 (RELOAD)")
	s.Contains(text, "Increment: 5s")
	s.Contains(text, "Context: game/g1")
	s.Contains(text, "    0. Alice  48s left")
	s.Contains(text, "  > 1. @u-2  58.5s left")
}

func (s *CLISuite) TestFrameJSONIsOneLine() {
	var out bytes.Buffer
	NewOutput("json", &out, &out).PrintFrame(ws.ServerFrame{Event: ws.EventError, Code: "RAN_OUT", Note: true})

	s.Equal(1, bytes.Count(out.Bytes(), []byte("\n")))
	var frame ws.ServerFrame
	s.Require().NoError(json.Unmarshal(out.Bytes(), &frame))
	s.True(frame.Note)
}

func (s *CLISuite) TestAPIErrorMessage() {
	err := error(&APIError{Code: "NOT_FOUND", Message: "timer not found"})
	s.Equal("timer not found (NOT_FOUND)", err.Error())
}
