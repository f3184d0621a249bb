package entity

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		rec     Record
		wantErr error
	}{
		{name: "minimal", rec: Record{ID: strp("u1"), Role: strp("student")}},
		{name: "missing id", rec: Record{Role: strp("student")}, wantErr: ErrMalformed},
		{name: "blank id", rec: Record{ID: strp("  "), Role: strp("student")}, wantErr: ErrMalformed},
		{name: "missing role", rec: Record{ID: strp("u1")}, wantErr: ErrMalformed},
		{name: "unknown role", rec: Record{ID: strp("u1"), Role: strp("principal")}, wantErr: ErrMalformed},
		{name: "bad email", rec: Record{ID: strp("u1"), Role: strp("teacher"), Email: strp("nope")}, wantErr: ErrMalformed},
		{name: "negative stars", rec: Record{ID: strp("u1"), Role: strp("student"), TotalStars: intp(-1)}, wantErr: ErrMalformed},
		{name: "zero level", rec: Record{ID: strp("u1"), Role: strp("student"), Level: intp(0)}, wantErr: ErrMalformed},
		{name: "bad birth date", rec: Record{ID: strp("u1"), Role: strp("student"), DateOfBirth: strp("01/02/2015")}, wantErr: ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.rec)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, *tt.rec.ID, p.ID)
		})
	}
}

func TestParseFromJSON(t *testing.T) {
	raw := `{"id":"2Yx","email":"kid@example.com","role":"student","display_name":"Mia",
		"avatar_url":"","total_stars":12,"level":3,"created_at":"2024-05-01T10:00:00Z"}`
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))

	p, err := Parse(rec)
	require.NoError(t, err)
	assert.Equal(t, RoleStudent, p.Role)
	assert.Equal(t, "Mia", p.Name())
	assert.Nil(t, p.AvatarURL, "empty strings map to nil")
	assert.Equal(t, 12, p.TotalStars)
	assert.Equal(t, 3, p.Level)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), p.CreatedAt)
}

func TestToRecordRoundTrip(t *testing.T) {
	in := &Profile{
		ID:          "u1",
		Email:       "teacher@example.com",
		Role:        RoleTeacher,
		DisplayName: strp("Ms. Lee"),
		Bio:         strp("Phonics"),
	}
	out, err := Parse(ToRecord(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseRole(t *testing.T) {
	for _, r := range Roles {
		got, err := ParseRole(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	_, err := ParseRole("")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestCloneDoesNotAlias(t *testing.T) {
	p := &Profile{ID: "u1", Role: RoleStudent, DisplayName: strp("Mia")}
	c := p.Clone()
	*c.DisplayName = "Leo"
	assert.Equal(t, "Mia", *p.DisplayName)
	assert.Nil(t, (*Profile)(nil).Clone())
}
