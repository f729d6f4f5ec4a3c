package protocol

import (
	"strconv"
	"strings"
)

// Command is a decoded client frame. The set of variants is closed.
type Command interface {
	Encode() string
	isCommand()
}

// Connect registers (or refreshes) the sending session.
type Connect struct{ Port int }

// Disconnect ends the sending session.
type Disconnect struct{ Port int }

// Auth runs one auth step. Username and PasswordHash are empty for AuthEnter.
type Auth struct {
	Action       AuthAction
	Username     string
	PasswordHash string
}

// Typing carries a typing-indicator fragment for a conversation context.
type Typing struct {
	Context string
	Text    string
}

// DirectMessage addresses a session by port or identity.
type DirectMessage struct {
	Target  string
	Content string
}

// DMHistoryRequest asks for the persisted DMs between two identities.
type DMHistoryRequest struct {
	UserA string
	UserB string
}

// GroupCommand creates a group or replaces its membership.
type GroupCommand struct {
	Action  GroupAction
	Name    string
	Owner   string
	Members []string
}

// GroupMessage posts to a group.
type GroupMessage struct {
	Group   string
	Content string
}

// GroupHistoryRequest asks for a group's persisted messages.
type GroupHistoryRequest struct {
	Group string
}

// FileRequest offers a file. Peer is the target port client→server and the
// initiator port server→client.
type FileRequest struct {
	Peer     int
	Filename string
	Size     int64
}

// FileResponse answers an offer. Peer is the initiator port client→server and the
// responder port server→client. Port is the responder's TCP listener (0 = default).
type FileResponse struct {
	Peer     int
	Decision Decision
	Port     int
}

// Chat is all-chat text, the fallback for any unrecognized frame.
type Chat struct{ Text string }

func (Connect) isCommand()             {}
func (Disconnect) isCommand()          {}
func (Auth) isCommand()                {}
func (Typing) isCommand()              {}
func (DirectMessage) isCommand()       {}
func (DMHistoryRequest) isCommand()    {}
func (GroupCommand) isCommand()        {}
func (GroupMessage) isCommand()        {}
func (GroupHistoryRequest) isCommand() {}
func (FileRequest) isCommand()         {}
func (FileResponse) isCommand()        {}
func (Chat) isCommand()                {}

func (c Connect) Encode() string    { return "connected @" + strconv.Itoa(c.Port) }
func (c Disconnect) Encode() string { return "disconnect @" + strconv.Itoa(c.Port) }

func (c Auth) Encode() string {
	if c.Action == AuthEnter {
		return "AUTH:" + string(AuthEnter)
	}
	return "AUTH:" + string(c.Action) + ":" + c.Username + ":" + c.PasswordHash
}

func (c Typing) Encode() string           { return "typing:" + c.Context + ":" + c.Text }
func (c DirectMessage) Encode() string    { return "DM:" + c.Target + ":" + c.Content }
func (c DMHistoryRequest) Encode() string { return "REQUEST_DM_HISTORY:" + c.UserA + ":" + c.UserB }

func (c GroupCommand) Encode() string {
	return "GROUPS:" + string(c.Action) + ":" + c.Name + ":" + c.Owner + ":" + strings.Join(c.Members, ",")
}

func (c GroupMessage) Encode() string        { return "GROUP_MSG:" + c.Group + ":" + c.Content }
func (c GroupHistoryRequest) Encode() string { return "REQUEST_GROUP_HISTORY:" + c.Group }

func (c FileRequest) Encode() string {
	return "FILE_REQ:" + strconv.Itoa(c.Peer) + ":" + c.Filename + ":" + strconv.FormatInt(c.Size, 10)
}

func (c FileResponse) Encode() string {
	s := "FILE_RES:" + strconv.Itoa(c.Peer) + ":" + string(c.Decision)
	if c.Port > 0 {
		s += ":" + strconv.Itoa(c.Port)
	}
	return s
}

func (c Chat) Encode() string { return c.Text }

// ParseCommand decodes one client datagram. It never fails for unrecognized
// input (that is Chat); it returns ErrMalformedFrame for a recognized command
// word with the wrong number or kind of arguments.
func ParseCommand(frame string) (Command, error) {
	frame = strings.TrimRight(frame, "\r\n")

	if rest, ok := strings.CutPrefix(frame, "connected @"); ok {
		port, err := parsePort("connected", rest)
		if err != nil {
			return nil, err
		}
		return Connect{Port: port}, nil
	}
	if rest, ok := strings.CutPrefix(frame, "disconnect @"); ok {
		port, err := parsePort("disconnect", rest)
		if err != nil {
			return nil, err
		}
		return Disconnect{Port: port}, nil
	}

	word, rest, ok := strings.Cut(frame, ":")
	if !ok {
		return Chat{Text: frame}, nil
	}

	switch word {
	case "AUTH":
		return parseAuth(rest)
	case "typing":
		ctx, text, ok := strings.Cut(rest, ":")
		if !ok || ctx == "" {
			return nil, malformed(word, "want typing:<context>:<text>")
		}
		return Typing{Context: ctx, Text: text}, nil
	case "DM":
		target, content, ok := strings.Cut(rest, ":")
		if !ok || target == "" {
			return nil, malformed(word, "want DM:<target>:<content>")
		}
		return DirectMessage{Target: target, Content: content}, nil
	case "REQUEST_DM_HISTORY":
		parts := strings.Split(rest, ":")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, malformed(word, "want REQUEST_DM_HISTORY:<userA>:<userB>")
		}
		return DMHistoryRequest{UserA: parts[0], UserB: parts[1]}, nil
	case "GROUPS":
		return parseGroups(rest)
	case "GROUP_MSG":
		name, content, ok := strings.Cut(rest, ":")
		if !ok || name == "" {
			return nil, malformed(word, "want GROUP_MSG:<name>:<content>")
		}
		return GroupMessage{Group: name, Content: content}, nil
	case "REQUEST_GROUP_HISTORY":
		if rest == "" || strings.Contains(rest, ":") {
			return nil, malformed(word, "want REQUEST_GROUP_HISTORY:<name>")
		}
		return GroupHistoryRequest{Group: rest}, nil
	case "FILE_REQ":
		return parseFileRequest(rest)
	case "FILE_RES":
		return parseFileResponse(rest)
	default:
		return Chat{Text: frame}, nil
	}
}

func parseAuth(rest string) (Command, error) {
	parts := strings.Split(rest, ":")
	switch AuthAction(parts[0]) {
	case AuthEnter:
		if len(parts) != 1 {
			return nil, malformed("AUTH", "enter takes no arguments")
		}
		return Auth{Action: AuthEnter}, nil
	case AuthRegister, AuthLogin:
		if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			return nil, malformed("AUTH", "want AUTH:<register|login>:<username>:<passwordHash>")
		}
		return Auth{Action: AuthAction(parts[0]), Username: parts[1], PasswordHash: parts[2]}, nil
	default:
		return nil, malformed("AUTH", "unknown action "+strconv.Quote(parts[0]))
	}
}

func parseGroups(rest string) (Command, error) {
	parts := strings.SplitN(rest, ":", 4)
	if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
		return nil, malformed("GROUPS", "want GROUPS:<create|manage>:<name>:<owner>:<members>")
	}
	action := GroupAction(parts[0])
	if action != GroupCreate && action != GroupManage {
		return nil, malformed("GROUPS", "unknown action "+strconv.Quote(parts[0]))
	}
	cmd := GroupCommand{Action: action, Name: parts[1], Owner: parts[2]}
	if len(parts) == 4 {
		if strings.Contains(parts[3], ":") {
			return nil, malformed("GROUPS", "members must be comma-separated")
		}
		cmd.Members = splitList(parts[3])
	}
	return cmd, nil
}

func parseFileRequest(rest string) (Command, error) {
	portStr, tail, ok := strings.Cut(rest, ":")
	if !ok {
		return nil, malformed("FILE_REQ", "want FILE_REQ:<port>:<filename>:<filesize>")
	}
	port, err := parsePort("FILE_REQ", portStr)
	if err != nil {
		return nil, err
	}
	name, sizeStr, ok := cutLast(tail)
	if !ok || name == "" {
		return nil, malformed("FILE_REQ", "missing filename or filesize")
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil || size < 0 {
		return nil, malformed("FILE_REQ", "invalid filesize "+strconv.Quote(sizeStr))
	}
	return FileRequest{Peer: port, Filename: name, Size: size}, nil
}

func parseFileResponse(rest string) (Command, error) {
	parts := strings.Split(rest, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, malformed("FILE_RES", "want FILE_RES:<port>:<ACCEPT|REJECT>[:<tcpPort>]")
	}
	port, err := parsePort("FILE_RES", parts[0])
	if err != nil {
		return nil, err
	}
	decision, ok := parseDecision(parts[1])
	if !ok {
		return nil, malformed("FILE_RES", "unknown decision "+strconv.Quote(parts[1]))
	}
	res := FileResponse{Peer: port, Decision: decision}
	if len(parts) == 3 {
		if res.Port, err = parsePort("FILE_RES", parts[2]); err != nil {
			return nil, err
		}
	}
	return res, nil
}
