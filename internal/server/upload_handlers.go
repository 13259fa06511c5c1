package server

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/kookbook/kookbook/internal/apierr"
	httpx "github.com/kookbook/kookbook/internal/http"
	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
	"github.com/kookbook/kookbook/internal/upload"
)

// multipartMemory is how much of a multipart form is buffered in memory
// before spilling to temporary files.
const multipartMemory = 1 << 20

// formFile parses the multipart body and returns the named file part.
func formFile(r *http.Request, field string) (multipart.File, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, apierr.PayloadTooLarge()
		}
		return nil, apierr.Validation("Invalid multipart body")
	}

	file, _, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, apierr.Validation(field + " file is required")
		}
		return nil, apierr.Validation("Invalid multipart body")
	}
	return file, nil
}

// saveImage stores the upload and translates validation failures.
func (s *Server) saveImage(r *http.Request, kind, prefix, id string, file multipart.File) (*upload.Image, error) {
	image, err := s.uploads.Save(prefix, id, file)
	switch {
	case err == nil:
		s.metrics.RecordUpload(r.Context(), kind, "stored")
		return image, nil
	case errors.Is(err, upload.ErrTooLarge):
		s.metrics.RecordUpload(r.Context(), kind, "too_large")
		return nil, apierr.Validation(fmt.Sprintf("Image must be at most %d MB", s.uploads.MaxBytes()>>20))
	case errors.Is(err, upload.ErrUnsupportedType):
		s.metrics.RecordUpload(r.Context(), kind, "unsupported_type")
		return nil, apierr.Validation("Only JPEG, PNG and WebP images are allowed")
	case errors.Is(err, upload.ErrInvalidDimensions):
		s.metrics.RecordUpload(r.Context(), kind, "invalid_dimensions")
		return nil, apierr.Validation("Invalid image dimensions")
	default:
		s.metrics.RecordUpload(r.Context(), kind, "error")
		return nil, fmt.Errorf("failed to store image: %w", err)
	}
}

type recipeImageResponse struct {
	ImageURL         string `json:"imageUrl"`
	FileName         string `json:"fileName"`
	ImageStoragePath string `json:"imageStoragePath"`
}

func (s *Server) uploadRecipeImage(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireActiveNonAdmin(r)
	if err != nil {
		return err
	}

	file, err := formFile(r, "image")
	if err != nil {
		return err
	}
	defer file.Close()

	recipeID := r.FormValue("recipeId")
	if recipeID == "" {
		return apierr.Validation("recipeId is required")
	}

	recipe, err := s.loadRecipe(r, recipeID)
	if err != nil {
		return err
	}
	if recipe.AuthorID != identity.UserID {
		return apierr.Forbidden("Not the recipe owner")
	}

	image, err := s.saveImage(r, "recipe", "recipe", recipe.RecipeID, file)
	if err != nil {
		return err
	}

	previous, err := s.recipes.SetImage(r.Context(), recipe.RecipeID, image.URL, image.StoragePath)
	if err != nil {
		s.uploads.RemoveQuietly(image.StoragePath)
		if errors.Is(err, store.ErrRecipeNotFound) {
			return apierr.NotFound("Recipe not found")
		}
		return fmt.Errorf("failed to set recipe image: %w", err)
	}
	if previous != image.StoragePath {
		s.uploads.RemoveQuietly(previous)
	}

	zerolog.Ctx(r.Context()).Info().
		Str("recipe_id", recipe.RecipeID).
		Str("file", image.FileName).
		Msg("recipe image uploaded")

	httpx.WriteSuccess(w, http.StatusCreated, recipeImageResponse{
		ImageURL:         image.URL,
		FileName:         image.FileName,
		ImageStoragePath: image.StoragePath,
	}, "Recipe image uploaded")
	return nil
}

type avatarResponse struct {
	AvatarURL         string `json:"avatarUrl"`
	FileName          string `json:"fileName"`
	AvatarStoragePath string `json:"avatarStoragePath"`
}

func (s *Server) uploadAvatar(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireActiveNonAdmin(r)
	if err != nil {
		return err
	}

	file, err := formFile(r, "avatar")
	if err != nil {
		return err
	}
	defer file.Close()

	image, err := s.saveImage(r, "avatar", "avatar", identity.UserID, file)
	if err != nil {
		return err
	}

	previous, err := s.users.SetAvatar(r.Context(), identity.UserID, image.URL, image.StoragePath)
	if err != nil {
		s.uploads.RemoveQuietly(image.StoragePath)
		if errors.Is(err, store.ErrUserNotFound) {
			return apierr.NotFound("User not found")
		}
		return fmt.Errorf("failed to set avatar: %w", err)
	}
	if previous != image.StoragePath {
		s.uploads.RemoveQuietly(previous)
	}

	httpx.WriteSuccess(w, http.StatusCreated, avatarResponse{
		AvatarURL:         image.URL,
		FileName:          image.FileName,
		AvatarStoragePath: image.StoragePath,
	}, "Avatar uploaded")
	return nil
}

type deleteImageResponse struct {
	Deleted bool   `json:"deleted"`
	Path    string `json:"path"`
}

func (s *Server) deleteImage(w http.ResponseWriter, r *http.Request) error {
	identity, err := s.guard.RequireRole(r, models.RoleAdmin)
	if err != nil {
		return err
	}

	name := r.PathValue("path")
	if err := s.uploads.Remove(name); err != nil {
		switch {
		case errors.Is(err, upload.ErrInvalidPath):
			return apierr.Validation("Invalid image path")
		case errors.Is(err, upload.ErrNotFound):
			return apierr.NotFound("Image not found")
		default:
			return fmt.Errorf("failed to delete image: %w", err)
		}
	}

	zerolog.Ctx(r.Context()).Info().
		Str("file", name).
		Str("deleted_by", identity.UserID).
		Msg("image deleted")

	httpx.WriteSuccess(w, http.StatusOK, deleteImageResponse{Deleted: true, Path: name}, "Image deleted")
	return nil
}

// serveUpload streams a stored image with long-lived cache headers.
func (s *Server) serveUpload(w http.ResponseWriter, r *http.Request) error {
	file, err := s.uploads.Open(r.PathValue("path"))
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrInvalidPath):
			return apierr.Forbidden("Invalid path")
		case errors.Is(err, upload.ErrUnsupportedType):
			return apierr.UnsupportedMediaType("Unsupported file type")
		case errors.Is(err, upload.ErrNotFound):
			return apierr.NotFound("File not found")
		default:
			return fmt.Errorf("failed to open upload: %w", err)
		}
	}
	defer file.Close()

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Cache-Control", upload.CacheControl)
	http.ServeContent(w, r, file.Path, file.ModTime, file)
	return nil
}
