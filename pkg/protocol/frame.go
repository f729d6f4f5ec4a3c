package protocol

import (
	"strconv"
	"strings"
	"time"
)

// Frame is a decoded server frame. The set of variants is closed.
type Frame interface {
	Encode() string
	isFrame()
}

// Notice is free-form server text such as the welcome line.
type Notice struct{ Text string }

// RosterEntry is one live session as broadcast in CLIENTS.
type RosterEntry struct {
	ID   int
	Name string
	IP   string
}

// Roster is the full live-session snapshot.
type Roster struct{ Entries []RosterEntry }

// IdentityAssigned announces a session's new identity.
type IdentityAssigned struct {
	ID   int
	Name string
}

// RegisteredUsers lists every registered username.
type RegisteredUsers struct{ Names []string }

// GroupInfo is one group as broadcast in GROUPS_LISTS.
type GroupInfo struct {
	Name    string
	Owner   string
	Members []string
}

// GroupsList lists the groups a recipient belongs to.
type GroupsList struct{ Groups []GroupInfo }

// AuthResult answers an Auth command.
type AuthResult struct {
	OK      bool
	Message string
}

// TypingUpdate relays a typing fragment; empty Text clears it.
type TypingUpdate struct {
	Context  string
	Identity string
	Text     string
}

// DirectMessageIn delivers (or echoes) a DM; From is the sender's port.
type DirectMessageIn struct {
	From    int
	Content string
}

// DMNotify is the lightweight signal sent alongside a delivered DM.
type DMNotify struct {
	From int
	To   int
}

// DMHistory replays one persisted DM.
type DMHistory struct {
	Sender    string
	Recipient string
	Content   string
	SentAt    time.Time
}

// GroupsResult answers a GroupCommand.
type GroupsResult struct {
	OK      bool
	Message string
}

// GroupMessageIn delivers a group post to one online member.
type GroupMessageIn struct {
	Group   string
	Sender  string
	Content string
}

// GroupHistory replays one persisted group post.
type GroupHistory struct {
	Group   string
	Sender  string
	Content string
	SentAt  time.Time
}

// ChatLine is all-chat text attributed to a sender label.
type ChatLine struct {
	Sender string
	Text   string
}

func (Notice) isFrame()           {}
func (Roster) isFrame()           {}
func (IdentityAssigned) isFrame() {}
func (RegisteredUsers) isFrame()  {}
func (GroupsList) isFrame()       {}
func (AuthResult) isFrame()       {}
func (TypingUpdate) isFrame()     {}
func (DirectMessageIn) isFrame()  {}
func (DMNotify) isFrame()         {}
func (DMHistory) isFrame()        {}
func (GroupsResult) isFrame()     {}
func (GroupMessageIn) isFrame()   {}
func (GroupHistory) isFrame()     {}
func (FileRequest) isFrame()      {}
func (FileResponse) isFrame()     {}
func (ChatLine) isFrame()         {}

func (f Notice) Encode() string { return ServerPrefix + f.Text }

func (f Roster) Encode() string {
	parts := make([]string, len(f.Entries))
	for i, e := range f.Entries {
		parts[i] = strconv.Itoa(e.ID) + ":" + e.Name + ":" + e.IP
	}
	return ServerPrefix + "CLIENTS:" + strings.Join(parts, ",")
}

func (f IdentityAssigned) Encode() string {
	return ServerPrefix + "USERNAME:" + strconv.Itoa(f.ID) + ":" + f.Name
}

func (f RegisteredUsers) Encode() string {
	return ServerPrefix + "REGISTERED_USERS:" + strings.Join(f.Names, ",")
}

func (f GroupsList) Encode() string {
	parts := make([]string, len(f.Groups))
	for i, g := range f.Groups {
		fields := append([]string{g.Name, g.Owner}, g.Members...)
		parts[i] = strings.Join(fields, ",")
	}
	return ServerPrefix + "GROUPS_LISTS:" + strings.Join(parts, ":")
}

func (f AuthResult) Encode() string   { return "AUTH_RESULT:" + okFail(f.OK) + ":" + f.Message }
func (f GroupsResult) Encode() string { return "GROUPS_RESULT:" + okFail(f.OK) + ":" + f.Message }

func (f TypingUpdate) Encode() string {
	return "typing:" + f.Context + ":" + f.Identity + ":" + f.Text
}

func (f DirectMessageIn) Encode() string { return "DM:" + strconv.Itoa(f.From) + ":" + f.Content }

func (f DMNotify) Encode() string {
	return "DM_NOTIFY:" + strconv.Itoa(f.From) + ":" + strconv.Itoa(f.To)
}

func (f DMHistory) Encode() string {
	return "DM_HISTORY:" + f.Sender + ":" + f.Recipient + ":" + f.Content + ":" + millis(f.SentAt)
}

func (f GroupMessageIn) Encode() string {
	return "GROUP_MSG_IN:" + f.Group + ":" + f.Sender + ":" + f.Content
}

func (f GroupHistory) Encode() string {
	return "GROUP_HISTORY_MSG:" + f.Group + ":" + f.Sender + ":" + f.Content + ":" + millis(f.SentAt)
}

func (f ChatLine) Encode() string { return f.Sender + "> " + f.Text }

func okFail(ok bool) string {
	if ok {
		return "OK"
	}
	return "FAIL"
}

func parseOKFail(word, rest string) (bool, string, error) {
	status, msg, _ := strings.Cut(rest, ":")
	switch status {
	case "OK":
		return true, msg, nil
	case "FAIL":
		return false, msg, nil
	default:
		return false, "", malformed(word, "want OK or FAIL, got "+strconv.Quote(status))
	}
}

// ParseServerFrame decodes one server datagram.
func ParseServerFrame(frame string) (Frame, error) {
	frame = strings.TrimRight(frame, "\r\n")

	if rest, ok := strings.CutPrefix(frame, ServerPrefix); ok {
		return parseServerState(rest)
	}

	word, rest, ok := strings.Cut(frame, ":")
	if ok {
		switch word {
		case "AUTH_RESULT":
			okv, msg, err := parseOKFail(word, rest)
			if err != nil {
				return nil, err
			}
			return AuthResult{OK: okv, Message: msg}, nil
		case "GROUPS_RESULT":
			okv, msg, err := parseOKFail(word, rest)
			if err != nil {
				return nil, err
			}
			return GroupsResult{OK: okv, Message: msg}, nil
		case "typing":
			parts := strings.SplitN(rest, ":", 3)
			if len(parts) != 3 {
				return nil, malformed(word, "want typing:<context>:<identity>:<text>")
			}
			return TypingUpdate{Context: parts[0], Identity: parts[1], Text: parts[2]}, nil
		case "DM":
			portStr, content, ok := strings.Cut(rest, ":")
			if !ok {
				return nil, malformed(word, "want DM:<port>:<content>")
			}
			port, err := parsePort(word, portStr)
			if err != nil {
				return nil, err
			}
			return DirectMessageIn{From: port, Content: content}, nil
		case "DM_NOTIFY":
			fromStr, toStr, ok := strings.Cut(rest, ":")
			if !ok {
				return nil, malformed(word, "want DM_NOTIFY:<from>:<to>")
			}
			from, err := parsePort(word, fromStr)
			if err != nil {
				return nil, err
			}
			to, err := parsePort(word, toStr)
			if err != nil {
				return nil, err
			}
			return DMNotify{From: from, To: to}, nil
		case "DM_HISTORY":
			parts := strings.SplitN(rest, ":", 3)
			if len(parts) != 3 {
				return nil, malformed(word, "want DM_HISTORY:<sender>:<recipient>:<content>:<timestamp>")
			}
			content, tsStr, ok := cutLast(parts[2])
			if !ok {
				return nil, malformed(word, "missing timestamp")
			}
			ts, err := parseMillis(word, tsStr)
			if err != nil {
				return nil, err
			}
			return DMHistory{Sender: parts[0], Recipient: parts[1], Content: content, SentAt: ts}, nil
		case "GROUP_MSG_IN":
			parts := strings.SplitN(rest, ":", 3)
			if len(parts) != 3 {
				return nil, malformed(word, "want GROUP_MSG_IN:<name>:<sender>:<content>")
			}
			return GroupMessageIn{Group: parts[0], Sender: parts[1], Content: parts[2]}, nil
		case "GROUP_HISTORY_MSG":
			parts := strings.SplitN(rest, ":", 3)
			if len(parts) != 3 {
				return nil, malformed(word, "want GROUP_HISTORY_MSG:<name>:<sender>:<content>:<timestamp>")
			}
			content, tsStr, ok := cutLast(parts[2])
			if !ok {
				return nil, malformed(word, "missing timestamp")
			}
			ts, err := parseMillis(word, tsStr)
			if err != nil {
				return nil, err
			}
			return GroupHistory{Group: parts[0], Sender: parts[1], Content: content, SentAt: ts}, nil
		case "FILE_REQ":
			cmd, err := parseFileRequest(rest)
			if err != nil {
				return nil, err
			}
			return cmd.(FileRequest), nil
		case "FILE_RES":
			cmd, err := parseFileResponse(rest)
			if err != nil {
				return nil, err
			}
			return cmd.(FileResponse), nil
		}
	}

	if sender, text, ok := strings.Cut(frame, "> "); ok && sender != "" && !strings.ContainsAny(sender, " :") {
		return ChatLine{Sender: sender, Text: text}, nil
	}
	return nil, malformed("frame", "unrecognized server frame")
}

func parseServerState(rest string) (Frame, error) {
	word, body, ok := strings.Cut(rest, ":")
	if !ok {
		return Notice{Text: rest}, nil
	}
	switch word {
	case "CLIENTS":
		var entries []RosterEntry
		for _, item := range splitList(body) {
			parts := strings.SplitN(item, ":", 3)
			if len(parts) != 3 {
				return nil, malformed(word, "want <port>:<identity>:<ip>")
			}
			id, err := parsePort(word, parts[0])
			if err != nil {
				return nil, err
			}
			entries = append(entries, RosterEntry{ID: id, Name: parts[1], IP: parts[2]})
		}
		return Roster{Entries: entries}, nil
	case "USERNAME":
		portStr, name, ok := strings.Cut(body, ":")
		if !ok || name == "" {
			return nil, malformed(word, "want USERNAME:<port>:<identity>")
		}
		id, err := parsePort(word, portStr)
		if err != nil {
			return nil, err
		}
		return IdentityAssigned{ID: id, Name: name}, nil
	case "REGISTERED_USERS":
		return RegisteredUsers{Names: splitList(body)}, nil
	case "GROUPS_LISTS":
		var groups []GroupInfo
		for _, item := range strings.Split(body, ":") {
			fields := splitList(item)
			if len(fields) == 0 {
				continue
			}
			if len(fields) < 2 {
				return nil, malformed(word, "want <name>,<owner>,<members...>")
			}
			groups = append(groups, GroupInfo{Name: fields[0], Owner: fields[1], Members: fields[2:]})
		}
		return GroupsList{Groups: groups}, nil
	default:
		return Notice{Text: rest}, nil
	}
}
