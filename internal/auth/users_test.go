package auth

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUserStore(t *testing.T) *UserStore {
	return NewUserStore(t.TempDir())
}

func TestCreateAndGet(t *testing.T) {
	s := testUserStore(t)
	u, err := s.Create("alice", "hunter22", "Alice", "alice@example.com", []string{"admins"})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.True(t, u.IsAdmin())

	got, ok := s.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", got.Email)
}

func TestCreateRejectsDuplicateUsername(t *testing.T) {
	s := testUserStore(t)
	_, err := s.Create("bob", "password1", "", "", nil)
	require.NoError(t, err)

	_, err = s.Create("bob", "password1", "", "", nil)
	assert.Error(t, err)
}

func TestCreateRejectsShortPassword(t *testing.T) {
	s := testUserStore(t)
	_, err := s.Create("carol", "short", "", "", nil)
	assert.Error(t, err)
}

func TestCreateRejectsInvalidUsername(t *testing.T) {
	s := testUserStore(t)
	_, err := s.Create("a b", "password1", "", "", nil)
	assert.Error(t, err)
}

func TestCreateDefaultsDisplayNameToUsername(t *testing.T) {
	s := testUserStore(t)
	u, err := s.Create("dave", "password1", "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "dave", u.DisplayName)
}

func TestVerifyLoginSucceedsWithCorrectPassword(t *testing.T) {
	s := testUserStore(t)
	_, err := s.Create("erin", "correcthorse", "", "", nil)
	require.NoError(t, err)

	u, ok := s.VerifyLogin("erin", "correcthorse")
	require.True(t, ok)
	assert.Equal(t, "erin", u.Username)
}

func TestVerifyLoginFailsWithWrongPassword(t *testing.T) {
	s := testUserStore(t)
	_, err := s.Create("frank", "correcthorse", "", "", nil)
	require.NoError(t, err)

	_, ok := s.VerifyLogin("frank", "wrongpassword")
	assert.False(t, ok)
}

func TestVerifyLoginFailsForDisabledUser(t *testing.T) {
	s := testUserStore(t)
	_, err := s.Create("gina", "correcthorse", "", "", nil)
	require.NoError(t, err)

	disabled := true
	_, err = s.Update("gina", UserUpdates{Disabled: &disabled})
	require.NoError(t, err)

	_, ok := s.VerifyLogin("gina", "correcthorse")
	assert.False(t, ok)
}

func TestUpdatePartialFields(t *testing.T) {
	s := testUserStore(t)
	_, err := s.Create("hank", "password1", "Hank Original", "", nil)
	require.NoError(t, err)

	newEmail := "hank@example.com"
	u, err := s.Update("hank", UserUpdates{Email: &newEmail})
	require.NoError(t, err)
	assert.Equal(t, "Hank Original", u.DisplayName)
	assert.Equal(t, "hank@example.com", u.Email)
}

func TestChangePassword(t *testing.T) {
	s := testUserStore(t)
	_, err := s.Create("iris", "password1", "", "", nil)
	require.NoError(t, err)

	require.NoError(t, s.ChangePassword("iris", "newpassword2"))
	_, ok := s.VerifyLogin("iris", "password1")
	assert.False(t, ok)
	_, ok = s.VerifyLogin("iris", "newpassword2")
	assert.True(t, ok)
}

func TestDeleteUser(t *testing.T) {
	s := testUserStore(t)
	_, err := s.Create("jack", "password1", "", "", nil)
	require.NoError(t, err)

	require.NoError(t, s.Delete("jack"))
	_, ok := s.Get("jack")
	assert.False(t, ok)
}

func TestAllListsEveryUser(t *testing.T) {
	s := testUserStore(t)
	_, err := s.Create("kim", "password1", "", "", nil)
	require.NoError(t, err)
	_, err = s.Create("leo", "password1", "", "", nil)
	require.NoError(t, err)

	all, err := s.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUsersPersistAcrossStoreInstances(t *testing.T) {
	dir := filepath.Join(t.TempDir())
	s1 := NewUserStore(dir)
	_, err := s1.Create("mia", "password1", "", "", nil)
	require.NoError(t, err)

	s2 := NewUserStore(dir)
	_, ok := s2.Get("mia")
	assert.True(t, ok)
}
