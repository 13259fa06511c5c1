package server

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
	"github.com/kookbook/kookbook/internal/upload"
)

func TestGetUser(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice", models.RoleUser, models.UserStatusActive)
	bob := env.seedUser(t, "bob", models.RoleUser, models.UserStatusActive)
	path := "/api/v1/users/" + alice.UserID

	anon := env.newClient(t)
	resp, body := anon.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotContains(t, string(body.Data), alice.Email)
	require.NotContains(t, string(body.Data), "passwordHash")
	require.Contains(t, string(body.Data), `"username":"alice"`)

	bobClient := env.newClient(t)
	bobClient.login(bob.Email)
	_, body = bobClient.do(http.MethodGet, path, nil)
	require.NotContains(t, string(body.Data), alice.Email)

	aliceClient := env.newClient(t)
	aliceClient.login(alice.Email)
	_, body = aliceClient.do(http.MethodGet, path, nil)
	require.Equal(t, alice.Email, decodeData[userResponse](t, body).User.Email)

	resp, body = anon.do(http.MethodGet, "/api/v1/users/user-missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NOT_FOUND", body.code())
}

func TestUpdateUser(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice", models.RoleUser, models.UserStatusActive)
	bob := env.seedUser(t, "bob", models.RoleUser, models.UserStatusActive)
	admin := env.seedUser(t, "admin", models.RoleAdmin, models.UserStatusActive)
	path := "/api/v1/users/" + alice.UserID

	aliceClient := env.newClient(t)
	aliceClient.login(alice.Email)

	t.Run("self", func(t *testing.T) {
		resp, body := aliceClient.do(http.MethodPatch, path, map[string]any{
			"bio":          "I <em>love</em> soup",
			"cookingLevel": "Advanced",
			"role":         "admin",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		profile := decodeData[userResponse](t, body).User
		require.Equal(t, "I love soup", profile.Bio)
		require.Equal(t, "Advanced", profile.CookingLevel)
		require.Equal(t, models.RoleUser, profile.Role)
	})

	t.Run("validation", func(t *testing.T) {
		resp, body := aliceClient.do(http.MethodPatch, path, map[string]any{
			"username":     "no spaces allowed",
			"cookingLevel": "Wizard",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Len(t, body.Error.Details, 2)
	})

	t.Run("other user", func(t *testing.T) {
		bobClient := env.newClient(t)
		bobClient.login(bob.Email)
		resp, body := bobClient.do(http.MethodPatch, path, map[string]any{"bio": "hacked"})
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Equal(t, "FORBIDDEN", body.code())
	})

	t.Run("admin", func(t *testing.T) {
		adminClient := env.newClient(t)
		adminClient.login(admin.Email)
		resp, body := adminClient.do(http.MethodPatch, path, map[string]any{"status": "suspended"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, models.UserStatusSuspended, decodeData[userResponse](t, body).User.Status)
	})
}

func TestAdminSetUserStatus(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice", models.RoleUser, models.UserStatusPending)
	admin := env.seedUser(t, "admin", models.RoleAdmin, models.UserStatusActive)
	path := "/api/v1/admin/users/" + alice.UserID + "/status"

	aliceClient := env.newClient(t)
	aliceClient.login(alice.Email)
	resp, body := aliceClient.do(http.MethodPatch, path, map[string]string{"status": "active"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "FORBIDDEN", body.code())

	adminClient := env.newClient(t)
	adminClient.login(admin.Email)

	tests := []struct {
		name   string
		path   string
		status string
		code   int
	}{
		{"activate", path, "active", http.StatusOK},
		{"unknown status", path, "banned", http.StatusBadRequest},
		{"unknown user", "/api/v1/admin/users/user-missing/status", "active", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := adminClient.do(http.MethodPatch, tt.path, map[string]string{"status": tt.status})
			require.Equal(t, tt.code, resp.StatusCode)
		})
	}

	// The new status takes effect on the next request without a new login.
	resp, _ = aliceClient.do(http.MethodPost, "/api/v1/recipes", validRecipe("Fresh bread"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestListUsers(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", models.RoleUser, models.UserStatusActive)
	env.seedUser(t, "bob", models.RoleUser, models.UserStatusSuspended)
	admin := env.seedUser(t, "admin", models.RoleAdmin, models.UserStatusActive)

	anon := env.newClient(t)
	adminClient := env.newClient(t)
	adminClient.login(admin.Email)

	usernames := func(data userListResponse) []string {
		names := make([]string, 0, len(data.Users))
		for _, u := range data.Users {
			names = append(names, u.Username)
		}
		return names
	}

	tests := []struct {
		name      string
		client    *testClient
		query     string
		want      []string
		wantTotal int
		wantEmail bool
	}{
		{name: "public hides suspended", client: anon, query: "", want: []string{"admin", "alice"}, wantTotal: 2},
		{name: "public cannot ask for suspended", client: anon, query: "?status=suspended", want: []string{"admin", "alice"}, wantTotal: 2},
		{name: "public search", client: anon, query: "?search=ALI", want: []string{"alice"}, wantTotal: 1},
		{name: "admin sees suspended", client: adminClient, query: "?status=suspended", want: []string{"bob"}, wantTotal: 1, wantEmail: true},
		{name: "admin role filter", client: adminClient, query: "?role=admin", want: []string{"admin"}, wantTotal: 1, wantEmail: true},
		{name: "paged", client: adminClient, query: "?limit=1&page=2", want: []string{"bob"}, wantTotal: 3, wantEmail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := tt.client.do(http.MethodGet, "/api/v1/users"+tt.query, nil)
			require.Equal(t, http.StatusOK, resp.StatusCode, body.code())

			data := decodeData[userListResponse](t, body)
			require.ElementsMatch(t, tt.want, usernames(data))
			require.Equal(t, tt.wantTotal, data.Pagination.Total)
			for _, u := range data.Users {
				if tt.wantEmail {
					require.NotEmpty(t, u.Email)
				} else {
					require.Empty(t, u.Email)
				}
			}
		})
	}
}

func TestDeleteUserCascades(t *testing.T) {
	f := newRecipeFixture(t)
	env := f.env
	ctx := context.Background()

	recipe := f.createRecipe(t, "Tomato soup")
	f.publish(t, recipe.RecipeID)

	resp, body := f.otherClient.do(http.MethodPost, "/api/v1/recipes/"+recipe.RecipeID+"/reviews",
		map[string]any{"rating": 4, "comment": "Nice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body.code())
	resp, _ = f.otherClient.do(http.MethodPost, "/api/v1/recipes/"+recipe.RecipeID+"/favorite", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.authorClient.do(http.MethodPost, "/api/v1/search-history", map[string]string{"query": "soup"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	image, err := env.uploads.Save("avatar", f.author.UserID, bytes.NewReader(pngImage(t, 4, 4)))
	require.NoError(t, err)
	_, err = env.stores.Users.SetAvatar(ctx, f.author.UserID, image.URL, image.StoragePath)
	require.NoError(t, err)

	path := "/api/v1/users/" + f.author.UserID

	resp, body = f.otherClient.do(http.MethodDelete, path, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "FORBIDDEN", body.code())

	resp, body = f.adminClient.do(http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body.code())
	require.Equal(t, "User deleted", body.Message)

	_, err = env.stores.Users.Get(ctx, f.author.UserID)
	require.ErrorIs(t, err, store.ErrUserNotFound)
	_, err = env.stores.Recipes.Get(ctx, recipe.RecipeID)
	require.ErrorIs(t, err, store.ErrRecipeNotFound)

	_, count, err := env.stores.Reviews.Rating(ctx, recipe.RecipeID)
	require.NoError(t, err)
	require.Zero(t, count)

	other, err := env.stores.Users.Get(ctx, f.other.UserID)
	require.NoError(t, err)
	require.NotContains(t, other.Favorites, recipe.RecipeID)

	searches, err := env.stores.SearchHistory.List(ctx, f.author.UserID)
	require.NoError(t, err)
	require.Empty(t, searches)

	entries, _, err := env.stores.Activity.List(ctx, 1, 100)
	require.NoError(t, err)
	for _, entry := range entries {
		require.NotEqual(t, f.author.UserID, entry.UserID)
	}

	_, err = env.uploads.Open(image.StoragePath)
	require.ErrorIs(t, err, upload.ErrNotFound)

	resp, body = f.adminClient.do(http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NOT_FOUND", body.code())
}
