package models

import "testing"

func TestAvatarColorFromID(t *testing.T) {
	type args struct {
		id string
	}

	tests := []struct {
		name string
		args args
		want string
	}{
		{
			name: "empty id hashes to first color",
			args: args{id: ""},
			want: "#22c55e",
		},
		{
			name: "short id",
			args: args{id: "u1"},
			want: "#14b8a6",
		},
		{
			// Hashes to 4027269424, above MaxInt32; the index must stay
			// in range on 32-bit platforms too.
			name: "high-bit hash",
			args: args{id: "user-123"},
			want: "#14b8a6",
		},
		{
			name: "word id",
			args: args{id: "galynx"},
			want: "#eab308",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AvatarColorFromID(tt.args.id); got != tt.want {
				t.Errorf("AvatarColorFromID() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAvatarColorFromID_Stable(t *testing.T) {
	ids := []string{"alice", "bob", "4f2c1d9e", "user-12345"}
	for _, id := range ids {
		first := AvatarColorFromID(id)
		for i := 0; i < 10; i++ {
			if got := AvatarColorFromID(id); got != first {
				t.Errorf("AvatarColorFromID(%q) changed between calls: %v then %v", id, first, got)
			}
		}
		found := false
		for _, color := range avatarColors {
			if color == first {
				found = true
			}
		}
		if !found {
			t.Errorf("AvatarColorFromID(%q) = %v, not in palette", id, first)
		}
	}
}

func TestShortLabel(t *testing.T) {
	type args struct {
		name string
	}

	tests := []struct {
		name string
		args args
		want string
	}{
		{
			name: "empty name",
			args: args{name: ""},
			want: "WS",
		},
		{
			name: "single word",
			args: args{name: "Galynx"},
			want: "GA",
		},
		{
			name: "single letter",
			args: args{name: "a"},
			want: "A",
		},
		{
			name: "two words",
			args: args{name: "Acme Corp"},
			want: "AC",
		},
		{
			name: "three words uses first two",
			args: args{name: "galynx dev team"},
			want: "GD",
		},
		{
			name: "whitespace only",
			args: args{name: "   "},
			want: "WS",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShortLabel(tt.args.name); got != tt.want {
				t.Errorf("ShortLabel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeRole(t *testing.T) {
	type args struct {
		raw string
	}

	tests := []struct {
		name string
		args args
		want Role
	}{
		{
			name: "owner",
			args: args{raw: "owner"},
			want: RoleOwner,
		},
		{
			name: "admin",
			args: args{raw: "admin"},
			want: RoleAdmin,
		},
		{
			name: "member",
			args: args{raw: "member"},
			want: RoleMember,
		},
		{
			name: "unknown falls back to member",
			args: args{raw: "superuser"},
			want: RoleMember,
		},
		{
			name: "empty falls back to member",
			args: args{raw: ""},
			want: RoleMember,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeRole(tt.args.raw); got != tt.want {
				t.Errorf("NormalizeRole() = %v, want %v", got, tt.want)
			}
		})
	}
}
