package store

import (
	"reflect"
	"testing"
	"time"

	"github.com/galynx/galynx-client/internal/models"
	"github.com/google/uuid"
)

func msgAt(id, channelID string, ts int64) models.Message {
	return models.Message{
		ID:        id,
		ChannelID: channelID,
		UserID:    "u1",
		Content:   "body " + id,
		Timestamp: time.UnixMilli(ts),
		Status:    models.MessageSent,
	}
}

func messageIDs(messages []models.Message) []string {
	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
	}
	return ids
}

func TestMutator_UpsertMessage(t *testing.T) {
	type args struct {
		seed []models.Message
		msg  models.Message
	}

	tests := []struct {
		name    string
		args    args
		wantIDs []string
	}{
		{
			name: "insert keeps ascending order",
			args: args{
				seed: []models.Message{msgAt("m1", "c1", 100), msgAt("m3", "c1", 300)},
				msg:  msgAt("m2", "c1", 200),
			},
			wantIDs: []string{"m1", "m2", "m3"},
		},
		{
			name: "existing id replaces in place",
			args: args{
				seed: []models.Message{msgAt("m1", "c1", 100), msgAt("m2", "c1", 200)},
				msg:  msgAt("m1", "c1", 100),
			},
			wantIDs: []string{"m1", "m2"},
		},
		{
			name: "missing id is dropped",
			args: args{
				seed: []models.Message{msgAt("m1", "c1", 100)},
				msg:  msgAt("", "c1", 200),
			},
			wantIDs: []string{"m1"},
		},
		{
			name: "missing channel is dropped",
			args: args{
				seed: []models.Message{msgAt("m1", "c1", 100)},
				msg:  msgAt("m2", "", 200),
			},
			wantIDs: []string{"m1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := NewState()
			m := NewMutator(state)
			for _, msg := range tt.args.seed {
				m.UpsertMessage(msg)
			}

			m.UpsertMessage(tt.args.msg)

			if got := messageIDs(state.MessagesByChannel["c1"]); !reflect.DeepEqual(got, tt.wantIDs) {
				t.Errorf("Mutator.UpsertMessage() ids = %v, want %v", got, tt.wantIDs)
			}
		})
	}
}

func TestMutator_UpsertMessage_EnsuresAuthor(t *testing.T) {
	state := NewState()
	m := NewMutator(state)

	m.UpsertMessage(msgAt("m1", "c1", 100))

	user, ok := state.Users["u1"]
	if !ok {
		t.Fatal("Mutator.UpsertMessage() did not create a user record for the author")
	}
	if user.Name == "" || user.Email == "" || user.AvatarColor == "" {
		t.Errorf("Mutator.UpsertMessage() provisional user incomplete: %#v", user)
	}
}

func TestMutator_MergeSorted(t *testing.T) {
	type args struct {
		existing []models.Message
		incoming []models.Message
	}

	edited := msgAt("m2", "c1", 200)
	edited.Content = "edited"

	tests := []struct {
		name    string
		args    args
		wantIDs []string
	}{
		{
			name: "overlapping page collapses duplicates",
			args: args{
				existing: []models.Message{msgAt("m2", "c1", 200), msgAt("m3", "c1", 300)},
				incoming: []models.Message{msgAt("m1", "c1", 100), msgAt("m2", "c1", 200)},
			},
			wantIDs: []string{"m1", "m2", "m3"},
		},
		{
			name: "disjoint pages interleave by timestamp",
			args: args{
				existing: []models.Message{msgAt("m1", "c1", 100), msgAt("m4", "c1", 400)},
				incoming: []models.Message{msgAt("m2", "c1", 200), msgAt("m3", "c1", 300)},
			},
			wantIDs: []string{"m1", "m2", "m3", "m4"},
		},
		{
			name: "empty incoming keeps existing",
			args: args{
				existing: []models.Message{msgAt("m1", "c1", 100)},
				incoming: nil,
			},
			wantIDs: []string{"m1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMutator(NewState())

			got := m.MergeSorted(tt.args.existing, tt.args.incoming)

			if ids := messageIDs(got); !reflect.DeepEqual(ids, tt.wantIDs) {
				t.Errorf("Mutator.MergeSorted() ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}

	t.Run("incoming wins on collision", func(t *testing.T) {
		m := NewMutator(NewState())

		got := m.MergeSorted(
			[]models.Message{msgAt("m2", "c1", 200)},
			[]models.Message{edited},
		)

		if len(got) != 1 || got[0].Content != "edited" {
			t.Errorf("Mutator.MergeSorted() = %#v, want the incoming record", got)
		}
	})
}

func TestMutator_SetChannelPage(t *testing.T) {
	nextCursor := "cursor-2"

	state := NewState()
	m := NewMutator(state)

	// First page replaces the scope and installs the cursor.
	m.SetChannelPage("c1", []models.Message{msgAt("m2", "c1", 200), msgAt("m1", "c1", 100)}, &nextCursor, true)
	if got := messageIDs(state.MessagesByChannel["c1"]); !reflect.DeepEqual(got, []string{"m1", "m2"}) {
		t.Errorf("Mutator.SetChannelPage() first page ids = %v, want [m1 m2]", got)
	}
	if !state.HasMoreMessages("c1") {
		t.Error("Mutator.SetChannelPage() first page should leave more pages available")
	}

	// Second page merges and the nil cursor supersedes the old one.
	m.SetChannelPage("c1", []models.Message{msgAt("m0", "c1", 50), msgAt("m1", "c1", 100)}, nil, false)
	if got := messageIDs(state.MessagesByChannel["c1"]); !reflect.DeepEqual(got, []string{"m0", "m1", "m2"}) {
		t.Errorf("Mutator.SetChannelPage() merged ids = %v, want [m0 m1 m2]", got)
	}
	if state.HasMoreMessages("c1") {
		t.Error("Mutator.SetChannelPage() nil cursor should mean end of data")
	}

	// Replaying the same page is idempotent.
	m.SetChannelPage("c1", []models.Message{msgAt("m0", "c1", 50), msgAt("m1", "c1", 100)}, nil, false)
	if got := messageIDs(state.MessagesByChannel["c1"]); !reflect.DeepEqual(got, []string{"m0", "m1", "m2"}) {
		t.Errorf("Mutator.SetChannelPage() replayed ids = %v, want [m0 m1 m2]", got)
	}
}

func TestState_HasMoreMessages_NeverLoaded(t *testing.T) {
	state := NewState()
	if state.HasMoreMessages("unknown") {
		t.Error("State.HasMoreMessages() should be false for a never-loaded channel")
	}
}

func TestMutator_RemoveMessage(t *testing.T) {
	state := NewState()
	m := NewMutator(state)
	m.UpsertMessage(msgAt("m1", "c1", 100))
	m.UpsertMessage(msgAt("m2", "c1", 200))
	m.UpsertMessage(msgAt("m3", "c2", 300))

	m.RemoveMessage("m2")
	if got := messageIDs(state.MessagesByChannel["c1"]); !reflect.DeepEqual(got, []string{"m1"}) {
		t.Errorf("Mutator.RemoveMessage() ids = %v, want [m1]", got)
	}

	// Unknown id leaves everything untouched.
	m.RemoveMessage(uuid.NewString())
	if got := messageIDs(state.MessagesByChannel["c1"]); !reflect.DeepEqual(got, []string{"m1"}) {
		t.Errorf("Mutator.RemoveMessage() unknown id changed ids to %v", got)
	}
	if got := messageIDs(state.MessagesByChannel["c2"]); !reflect.DeepEqual(got, []string{"m3"}) {
		t.Errorf("Mutator.RemoveMessage() unknown id changed other channel to %v", got)
	}
}

func TestMutator_UpdateMessage_MissingIsNoop(t *testing.T) {
	state := NewState()
	m := NewMutator(state)
	m.UpsertMessage(msgAt("m1", "c1", 100))

	called := false
	m.UpdateMessage("c1", "missing", func(msg models.Message) models.Message {
		called = true
		return msg
	})

	if called {
		t.Error("Mutator.UpdateMessage() applied fn to a missing message")
	}
}

func TestMutator_Thread(t *testing.T) {
	state := NewState()
	m := NewMutator(state)

	root := msgAt("root", "c1", 100)
	m.OpenThread(root)
	if state.ThreadRoot == nil || state.ThreadRoot.ID != "root" {
		t.Fatalf("Mutator.OpenThread() root = %#v, want root", state.ThreadRoot)
	}

	cursor := "cursor-1"
	m.SetThreadPage([]models.Message{msgAt("r2", "c1", 300), msgAt("r1", "c1", 200)}, &cursor, true)
	if got := messageIDs(state.ThreadReplies); !reflect.DeepEqual(got, []string{"r1", "r2"}) {
		t.Errorf("Mutator.SetThreadPage() ids = %v, want [r1 r2]", got)
	}
	if !state.HasMoreThreadReplies() {
		t.Error("Mutator.SetThreadPage() should leave more replies available")
	}

	m.AppendThreadReply(msgAt("r3", "c1", 400))
	if got := messageIDs(state.ThreadReplies); !reflect.DeepEqual(got, []string{"r1", "r2", "r3"}) {
		t.Errorf("Mutator.AppendThreadReply() ids = %v, want [r1 r2 r3]", got)
	}

	m.CloseThread()
	if state.ThreadRoot != nil || state.ThreadReplies != nil || state.ThreadCursor != nil {
		t.Error("Mutator.CloseThread() did not clear the thread view")
	}

	// A page landing after close is dropped.
	m.SetThreadPage([]models.Message{msgAt("r4", "c1", 500)}, nil, true)
	if state.ThreadReplies != nil {
		t.Errorf("Mutator.SetThreadPage() after close kept replies: %v", messageIDs(state.ThreadReplies))
	}
}

func TestMutator_RemoveChannel(t *testing.T) {
	state := NewState()
	m := NewMutator(state)

	m.ReplaceChannels([]models.Channel{{ID: "c1", Name: "general"}, {ID: "c2", Name: "random"}})
	m.UpsertMessage(msgAt("m1", "c1", 100))
	cursor := "cursor-1"
	m.SetChannelPage("c2", []models.Message{msgAt("m2", "c2", 200)}, &cursor, true)
	m.SetChannelMembers("c2", []models.ChannelMember{{ChannelID: "c2", UserID: "u1"}})

	m.RemoveChannel("c2")

	if len(state.Channels) != 1 || state.Channels[0].ID != "c1" {
		t.Errorf("Mutator.RemoveChannel() channels = %#v, want only c1", state.Channels)
	}
	if _, ok := state.MessagesByChannel["c2"]; ok {
		t.Error("Mutator.RemoveChannel() kept messages for the removed channel")
	}
	if _, ok := state.MessageCursorByChannel["c2"]; ok {
		t.Error("Mutator.RemoveChannel() kept the cursor for the removed channel")
	}
	if _, ok := state.ChannelMembersByChannel["c2"]; ok {
		t.Error("Mutator.RemoveChannel() kept members for the removed channel")
	}
}

func TestMutator_PrependChannel(t *testing.T) {
	state := NewState()
	m := NewMutator(state)
	m.ReplaceChannels([]models.Channel{{ID: "c1", Name: "general"}})

	m.PrependChannel(models.Channel{ID: "c2", Name: "random"})
	if len(state.Channels) != 2 || state.Channels[0].ID != "c2" {
		t.Errorf("Mutator.PrependChannel() channels = %#v, want c2 first", state.Channels)
	}

	// Duplicate ids are skipped.
	m.PrependChannel(models.Channel{ID: "c1", Name: "general again"})
	if len(state.Channels) != 2 {
		t.Errorf("Mutator.PrependChannel() duplicated a channel: %#v", state.Channels)
	}
}

func TestMutator_SetWorkspaceMembers(t *testing.T) {
	state := NewState()
	m := NewMutator(state)

	// Provisional record from a message author.
	m.UpsertMessage(msgAt("m1", "c1", 100))

	m.SetWorkspaceMembers("w1", []models.WorkspaceMember{
		{UserID: "u1", WorkspaceID: "w1", Role: models.RoleAdmin, Email: "alice@galynx.dev", Name: "Alice"},
	})

	user := state.Users["u1"]
	if user.Name != "Alice" || user.Email != "alice@galynx.dev" || user.Role != models.RoleAdmin {
		t.Errorf("Mutator.SetWorkspaceMembers() did not hydrate the user: %#v", user)
	}
}

func TestMutator_SetAdminUsers_KeepsCurrentUser(t *testing.T) {
	state := NewState()
	m := NewMutator(state)
	m.ApplyCurrentUser(models.User{ID: "me", Name: "Me", Email: "me@galynx.dev", Role: models.RoleOwner})

	m.SetAdminUsers([]models.User{{ID: "u2", Name: "Other"}})

	if len(state.AdminUsers) != 2 || state.AdminUsers[0].ID != "me" {
		t.Errorf("Mutator.SetAdminUsers() = %#v, want current user prepended", state.AdminUsers)
	}
}

func TestMutator_SetAuditPage(t *testing.T) {
	entry := func(id string, ts int64) models.AuditEntry {
		return models.AuditEntry{ID: id, Action: "channel.created", CreatedAt: time.UnixMilli(ts)}
	}

	state := NewState()
	m := NewMutator(state)

	cursor := "cursor-1"
	m.SetAuditPage([]models.AuditEntry{entry("a3", 300), entry("a2", 200)}, &cursor, true)
	if !state.AuditLoaded || !state.HasMoreAudit() {
		t.Fatal("Mutator.SetAuditPage() first page should mark loaded with more available")
	}

	m.SetAuditPage([]models.AuditEntry{entry("a2", 200), entry("a1", 100)}, nil, false)

	got := make([]string, 0, len(state.AuditItems))
	for _, item := range state.AuditItems {
		got = append(got, item.ID)
	}
	if !reflect.DeepEqual(got, []string{"a3", "a2", "a1"}) {
		t.Errorf("Mutator.SetAuditPage() ids = %v, want [a3 a2 a1]", got)
	}
	if state.HasMoreAudit() {
		t.Error("Mutator.SetAuditPage() nil cursor should mean end of data")
	}
}

func TestMutator_UpdateAttachment(t *testing.T) {
	state := NewState()
	m := NewMutator(state)

	msg := msgAt("m1", "c1", 100)
	msg.Attachments = []models.Attachment{{ID: "att1", Name: "photo.png", Status: models.AttachmentUploading}}
	m.UpsertMessage(msg)

	got, ok := m.UpdateAttachment("att1", func(att models.Attachment) models.Attachment {
		att.Status = models.AttachmentUploaded
		return att
	})
	if !ok || got.Status != models.AttachmentUploaded {
		t.Errorf("Mutator.UpdateAttachment() = %#v, %v, want uploaded", got, ok)
	}

	stored, _ := state.FindAttachment("att1")
	if stored.Status != models.AttachmentUploaded {
		t.Errorf("Mutator.UpdateAttachment() state not updated: %#v", stored)
	}

	if _, ok := m.UpdateAttachment("missing", func(att models.Attachment) models.Attachment { return att }); ok {
		t.Error("Mutator.UpdateAttachment() reported success for an unknown id")
	}
}
