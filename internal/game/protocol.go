package game

import (
	"encoding/json"

	"github.com/victornm/gudritis/internal/domain"
	"github.com/victornm/gudritis/internal/errors"
)

// Outbound event names, as carried in the "method" field.
const (
	MethodSlide        = "Slide"
	MethodAnswerResult = "AnswerResult"
	MethodError        = "Error"
	MethodPlayers      = "Players"
	MethodPlayerJoin   = "PlayerJoin"
	MethodFinish       = "Finish"
	MethodHostJoin     = "HostJoin"
	MethodKicked       = "Kicked"
	MethodEnd          = "End"
)

// Message is an outbound event.
type Message interface {
	Method() string
}

// SlideView is a slide as shown to players, without its correct answers.
type SlideView struct {
	Duration         uint8           `json:"duration"`
	Text             *string         `json:"text,omitempty"`
	Image            *string         `json:"image,omitempty"`
	IsMultipleAnswer bool            `json:"is_multiple_answer"`
	Answers          []domain.Answer `json:"answers"`
}

func NewSlideView(s domain.Slide) SlideView {
	return SlideView{
		Duration:         s.Duration,
		Text:             s.Text,
		Image:            s.Image,
		IsMultipleAnswer: s.IsMultipleAnswer,
		Answers:          s.Answers,
	}
}

type SlideEvent struct {
	Index int       `json:"index"`
	Slide SlideView `json:"slide"`
}

type AnswerResultEvent struct {
	Correct        bool  `json:"correct"`
	CorrectAnswers []int `json:"correct_answers"`
}

type ErrorEvent struct {
	Err string `json:"err"`
}

type PlayersEvent struct {
	PlayerNames []string `json:"player_names"`
}

type PlayerJoinEvent struct {
	PlayerName string `json:"player_name"`
}

type FinishEvent struct{}

type HostJoinEvent struct{}

type KickedEvent struct{}

type EndEvent struct{}

func (SlideEvent) Method() string        { return MethodSlide }
func (AnswerResultEvent) Method() string { return MethodAnswerResult }
func (ErrorEvent) Method() string        { return MethodError }
func (PlayersEvent) Method() string      { return MethodPlayers }
func (PlayerJoinEvent) Method() string   { return MethodPlayerJoin }
func (FinishEvent) Method() string       { return MethodFinish }
func (HostJoinEvent) Method() string     { return MethodHostJoin }
func (KickedEvent) Method() string       { return MethodKicked }
func (EndEvent) Method() string          { return MethodEnd }

// Encode marshals m as a JSON object with its method name as the first field.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	head := `{"method":"` + m.Method() + `"`
	if len(body) <= 2 {
		return []byte(head + "}"), nil
	}

	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head...)
	out = append(out, ',')
	out = append(out, body[1:]...)

	return out, nil
}

// Inbound command names.
const (
	CommandHost   = "Host"
	CommandStart  = "Start"
	CommandJoin   = "Join"
	CommandAnswer = "Answer"
	CommandEnd    = "End"
	CommandLeave  = "Leave"
	CommandKick   = "Kick"
	CommandNext   = "Next"
)

// Command is an inbound request decoded from a client frame.
type Command interface {
	Command() string
}

type HostCommand struct {
	SessionID string `json:"session_id"`
}

type StartCommand struct{}

type JoinCommand struct {
	UserID           string `json:"user_id"`
	Nickname         string `json:"nickname"`
	RegisteredPlayer bool   `json:"registered_player"`
	GameCode         uint32 `json:"game_code"`
}

type AnswerCommand struct {
	Answer     []int `json:"answer"`
	SlideIndex int   `json:"slide_index"`
}

type EndCommand struct{}

type LeaveCommand struct{}

type KickCommand struct {
	PlayerID string `json:"player_id"`
}

// NextCommand advances PlayerID, or every connected player when empty.
type NextCommand struct {
	PlayerID string `json:"player_id,omitempty"`
}

func (HostCommand) Command() string   { return CommandHost }
func (StartCommand) Command() string  { return CommandStart }
func (JoinCommand) Command() string   { return CommandJoin }
func (AnswerCommand) Command() string { return CommandAnswer }
func (EndCommand) Command() string    { return CommandEnd }
func (LeaveCommand) Command() string  { return CommandLeave }
func (KickCommand) Command() string   { return CommandKick }
func (NextCommand) Command() string   { return CommandNext }

// DecodeCommand parses a client frame into one of the Command types.
func DecodeCommand(data []byte) (Command, error) {
	var head struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed command"), errors.WithCause(err))
	}

	var cmd Command
	switch head.Method {
	case CommandHost:
		cmd = &HostCommand{}
	case CommandStart:
		cmd = &StartCommand{}
	case CommandJoin:
		cmd = &JoinCommand{}
	case CommandAnswer:
		cmd = &AnswerCommand{}
	case CommandEnd:
		cmd = &EndCommand{}
	case CommandLeave:
		cmd = &LeaveCommand{}
	case CommandKick:
		cmd = &KickCommand{}
	case CommandNext:
		cmd = &NextCommand{}
	default:
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown method %q", head.Method))
	}

	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed %s command", head.Method), errors.WithCause(err))
	}

	return cmd, nil
}
