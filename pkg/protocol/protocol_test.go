package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"connected @5001", Connect{Port: 5001}},
		{"disconnect @5001\n", Disconnect{Port: 5001}},
		{"AUTH:enter", Auth{Action: AuthEnter}},
		{"AUTH:register:alice:ab12", Auth{Action: AuthRegister, Username: "alice", PasswordHash: "ab12"}},
		{"AUTH:login:alice:ab12", Auth{Action: AuthLogin, Username: "alice", PasswordHash: "ab12"}},
		{"typing:all:hel", Typing{Context: "all", Text: "hel"}},
		{"typing:all:", Typing{Context: "all"}},
		{"DM:5002:hi: there", DirectMessage{Target: "5002", Content: "hi: there"}},
		{"DM:bob:yo", DirectMessage{Target: "bob", Content: "yo"}},
		{"REQUEST_DM_HISTORY:alice:bob", DMHistoryRequest{UserA: "alice", UserB: "bob"}},
		{"GROUPS:create:devs:alice:bob,carol", GroupCommand{Action: GroupCreate, Name: "devs", Owner: "alice", Members: []string{"bob", "carol"}}},
		{"GROUPS:manage:devs:alice", GroupCommand{Action: GroupManage, Name: "devs", Owner: "alice"}},
		{"GROUP_MSG:devs:ship it", GroupMessage{Group: "devs", Content: "ship it"}},
		{"REQUEST_GROUP_HISTORY:devs", GroupHistoryRequest{Group: "devs"}},
		{"FILE_REQ:5002:notes:v2.txt:1024", FileRequest{Peer: 5002, Filename: "notes:v2.txt", Size: 1024}},
		{"FILE_RES:5001:ACCEPT", FileResponse{Peer: 5001, Decision: DecisionAccept}},
		{"FILE_RES:5001:ACCEPT:6000", FileResponse{Peer: 5001, Decision: DecisionAccept, Port: 6000}},
		{"FILE_RES:5001:REJECT", FileResponse{Peer: 5001, Decision: DecisionReject}},
		{"hello world", Chat{Text: "hello world"}},
		{"note: remember this", Chat{Text: "note: remember this"}},
		{"", Chat{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCommand(tt.in)
			if err != nil {
				t.Fatalf("ParseCommand(%q): %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseCommand(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestParseCommandMalformed(t *testing.T) {
	for _, in := range []string{
		"connected @abc",
		"connected @0",
		"disconnect @70000",
		"AUTH:shout",
		"AUTH:register:alice",
		"AUTH:enter:extra",
		"typing:",
		"DM:5002",
		"REQUEST_DM_HISTORY:alice",
		"GROUPS:delete:devs:alice:bob",
		"GROUPS:create:devs",
		"GROUP_MSG:devs",
		"REQUEST_GROUP_HISTORY:",
		"FILE_REQ:5002:file.txt",
		"FILE_REQ:5002:file.txt:-4",
		"FILE_RES:5001",
		"FILE_RES:5001:MAYBE",
		"FILE_RES:5001:ACCEPT:1:2",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseCommand(in)
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("ParseCommand(%q) error = %v, want ErrMalformedFrame", in, err)
			}
		})
	}
}

func TestCommandEncodeRoundTrip(t *testing.T) {
	cmds := []Command{
		Connect{Port: 5001},
		Auth{Action: AuthLogin, Username: "alice", PasswordHash: "ff"},
		GroupCommand{Action: GroupCreate, Name: "devs", Owner: "alice", Members: []string{"alice", "bob"}},
		FileRequest{Peer: 5002, Filename: "a.bin", Size: 9},
		FileResponse{Peer: 5001, Decision: DecisionAccept, Port: 6000},
	}
	for _, c := range cmds {
		got, err := ParseCommand(c.Encode())
		if err != nil {
			t.Fatalf("ParseCommand(%q): %v", c.Encode(), err)
		}
		if diff := cmp.Diff(c, got); diff != "" {
			t.Errorf("round trip %q (-want +got):\n%s", c.Encode(), diff)
		}
	}
}

func TestParseServerFrame(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	tests := []struct {
		in   string
		want Frame
	}{
		{"[Server] Welcome Guest_5001", Notice{Text: "Welcome Guest_5001"}},
		{"[Server] bob is offline, message saved", Notice{Text: "bob is offline, message saved"}},
		{"[Server] CLIENTS:5001:Guest_5001:127.0.0.1,5002:bob:::1", Roster{Entries: []RosterEntry{
			{ID: 5001, Name: "Guest_5001", IP: "127.0.0.1"},
			{ID: 5002, Name: "bob", IP: "::1"},
		}}},
		{"[Server] CLIENTS:", Roster{}},
		{"[Server] USERNAME:5001:alice", IdentityAssigned{ID: 5001, Name: "alice"}},
		{"[Server] REGISTERED_USERS:alice,bob", RegisteredUsers{Names: []string{"alice", "bob"}}},
		{"[Server] GROUPS_LISTS:devs,alice,alice,bob:ops,carol,carol", GroupsList{Groups: []GroupInfo{
			{Name: "devs", Owner: "alice", Members: []string{"alice", "bob"}},
			{Name: "ops", Owner: "carol", Members: []string{"carol"}},
		}}},
		{"[Server] GROUPS_LISTS:", GroupsList{}},
		{"AUTH_RESULT:OK:Welcome back alice", AuthResult{OK: true, Message: "Welcome back alice"}},
		{"AUTH_RESULT:FAIL:Invalid credentials", AuthResult{Message: "Invalid credentials"}},
		{"GROUPS_RESULT:OK:Group devs created", GroupsResult{OK: true, Message: "Group devs created"}},
		{"typing:all:Guest_5001:he", TypingUpdate{Context: "all", Identity: "Guest_5001", Text: "he"}},
		{"DM:5001:hi: there", DirectMessageIn{From: 5001, Content: "hi: there"}},
		{"DM_NOTIFY:5001:5002", DMNotify{From: 5001, To: 5002}},
		{"DM_HISTORY:alice:bob:a:b:1700000000123", DMHistory{Sender: "alice", Recipient: "bob", Content: "a:b", SentAt: ts}},
		{"GROUP_MSG_IN:devs:alice:ship it", GroupMessageIn{Group: "devs", Sender: "alice", Content: "ship it"}},
		{"GROUP_HISTORY_MSG:devs:alice:ship it:1700000000123", GroupHistory{Group: "devs", Sender: "alice", Content: "ship it", SentAt: ts}},
		{"FILE_REQ:5001:report.pdf:2048", FileRequest{Peer: 5001, Filename: "report.pdf", Size: 2048}},
		{"FILE_RES:5002:TIMEOUT", FileResponse{Peer: 5002, Decision: DecisionTimeout}},
		{"Guest_5001> hello: world", ChatLine{Sender: "Guest_5001", Text: "hello: world"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseServerFrame(tt.in)
			if err != nil {
				t.Fatalf("ParseServerFrame(%q): %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseServerFrame(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestFrameEncode(t *testing.T) {
	ts := time.UnixMilli(42)
	tests := []struct {
		f    Frame
		want string
	}{
		{Roster{Entries: []RosterEntry{{5001, "Guest_5001", "127.0.0.1"}, {5002, "bob", "127.0.0.1"}}},
			"[Server] CLIENTS:5001:Guest_5001:127.0.0.1,5002:bob:127.0.0.1"},
		{IdentityAssigned{ID: 5001, Name: "alice"}, "[Server] USERNAME:5001:alice"},
		{GroupsList{Groups: []GroupInfo{{"devs", "alice", []string{"alice", "bob"}}}}, "[Server] GROUPS_LISTS:devs,alice,alice,bob"},
		{AuthResult{OK: false, Message: "Username taken"}, "AUTH_RESULT:FAIL:Username taken"},
		{DMHistory{Sender: "a", Recipient: "b", Content: "x", SentAt: ts}, "DM_HISTORY:a:b:x:42"},
		{FileResponse{Peer: 5002, Decision: DecisionTimeout}, "FILE_RES:5002:TIMEOUT"},
		{ChatLine{Sender: "bob", Text: "hi"}, "bob> hi"},
	}
	for _, tt := range tests {
		if got := tt.f.Encode(); got != tt.want {
			t.Errorf("%T.Encode() = %q, want %q", tt.f, got, tt.want)
		}
	}
}

func TestParseServerFrameUnrecognized(t *testing.T) {
	for _, in := range []string{"garbage", "DM_NOTIFY:5001", "AUTH_RESULT:MAYBE:x", "[Server] USERNAME:abc:alice"} {
		if _, err := ParseServerFrame(in); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("ParseServerFrame(%q) error = %v, want ErrMalformedFrame", in, err)
		}
	}
}
