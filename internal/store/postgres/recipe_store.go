package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
)

// RecipeStore implements store.RecipeStore using PostgreSQL.
type RecipeStore struct {
	pool *pgxpool.Pool
}

var _ store.RecipeStore = (*RecipeStore)(nil)

// NewRecipeStore creates a new PostgreSQL-backed recipe store.
func NewRecipeStore(pool *pgxpool.Pool) *RecipeStore {
	return &RecipeStore{pool: pool}
}

const recipeColumns = `
	r.recipe_id, r.title, r.description, r.category, r.prep_time, r.cook_time,
	r.servings, r.difficulty, r.ingredients, r.instructions, r.image_url,
	r.author_id, r.status, r.liked_by, r.viewed_by, r.created_at, r.updated_at,
	r.image_storage_path`

func scanRecipe(row pgx.Row, extra ...any) (*models.Recipe, error) {
	var r models.Recipe
	var ingredients []byte

	dest := []any{
		&r.RecipeID,
		&r.Title,
		&r.Description,
		&r.Category,
		&r.PrepTime,
		&r.CookTime,
		&r.Servings,
		&r.Difficulty,
		&ingredients,
		&r.Instructions,
		&r.ImageURL,
		&r.AuthorID,
		&r.Status,
		&r.LikedBy,
		&r.ViewedBy,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.ImageStoragePath,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if len(ingredients) > 0 {
		if err := json.Unmarshal(ingredients, &r.Ingredients); err != nil {
			return nil, fmt.Errorf("failed to decode ingredients: %w", err)
		}
	}

	return &r, nil
}

func recipeRowNotFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrRecipeNotFound
	}
	return fmt.Errorf("failed to %s: %w", op, mapPostgresError(err))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Create inserts a new recipe.
func (s *RecipeStore) Create(ctx context.Context, recipe *models.Recipe) error {
	ingredients, err := json.Marshal(recipe.Ingredients)
	if err != nil {
		return fmt.Errorf("failed to encode ingredients: %w", err)
	}

	now := time.Now()
	if recipe.CreatedAt.IsZero() {
		recipe.CreatedAt = now
	}
	recipe.UpdatedAt = now

	_, err = s.pool.Exec(ctx, `
		INSERT INTO recipes (
			recipe_id, title, description, category, prep_time, cook_time,
			servings, difficulty, ingredients, instructions, image_url,
			author_id, status, liked_by, viewed_by, created_at, updated_at,
			image_storage_path
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		recipe.RecipeID,
		recipe.Title,
		recipe.Description,
		recipe.Category,
		recipe.PrepTime,
		recipe.CookTime,
		recipe.Servings,
		recipe.Difficulty,
		ingredients,
		nonNil(recipe.Instructions),
		recipe.ImageURL,
		recipe.AuthorID,
		recipe.Status,
		nonNil(recipe.LikedBy),
		nonNil(recipe.ViewedBy),
		recipe.CreatedAt,
		recipe.UpdatedAt,
		recipe.ImageStoragePath,
	)
	if err != nil {
		return fmt.Errorf("failed to create recipe: %w", mapPostgresError(err))
	}

	log.Debug().Str("recipe_id", recipe.RecipeID).Str("author_id", recipe.AuthorID).Msg("Created recipe")
	return nil
}

// Get retrieves a recipe by ID.
func (s *RecipeStore) Get(ctx context.Context, recipeID string) (*models.Recipe, error) {
	r, err := scanRecipe(s.pool.QueryRow(ctx, `SELECT `+recipeColumns+` FROM recipes r WHERE r.recipe_id = $1`, recipeID))
	if err != nil {
		return nil, recipeRowNotFound(err, "get recipe")
	}
	return r, nil
}

// Update replaces the editable fields of a recipe. Likes, views, author and
// creation time are kept.
func (s *RecipeStore) Update(ctx context.Context, recipe *models.Recipe) error {
	ingredients, err := json.Marshal(recipe.Ingredients)
	if err != nil {
		return fmt.Errorf("failed to encode ingredients: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE recipes SET
			title = $2,
			description = $3,
			category = $4,
			prep_time = $5,
			cook_time = $6,
			servings = $7,
			difficulty = $8,
			ingredients = $9,
			instructions = $10,
			image_url = $11,
			status = $12,
			updated_at = now()
		WHERE recipe_id = $1
	`,
		recipe.RecipeID,
		recipe.Title,
		recipe.Description,
		recipe.Category,
		recipe.PrepTime,
		recipe.CookTime,
		recipe.Servings,
		recipe.Difficulty,
		ingredients,
		nonNil(recipe.Instructions),
		recipe.ImageURL,
		recipe.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to update recipe: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRecipeNotFound
	}
	return nil
}

// Delete removes a recipe. Its reviews are removed by the foreign key cascade.
func (s *RecipeStore) Delete(ctx context.Context, recipeID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recipes WHERE recipe_id = $1`, recipeID)
	if err != nil {
		return fmt.Errorf("failed to delete recipe: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRecipeNotFound
	}
	return nil
}

// whereBuilder accumulates AND-ed predicates with positional arguments.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (b *whereBuilder) add(clause string, arg any) {
	b.args = append(b.args, arg)
	b.clauses = append(b.clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(b.args))))
}

func (b *whereBuilder) String() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func recipeOrderBy(sort store.RecipeSort) string {
	switch sort {
	case store.SortTitle:
		return "r.title ASC"
	case store.SortTrending:
		return "cardinality(r.liked_by) DESC, r.created_at DESC"
	case store.SortRating:
		return "avg_rating DESC, review_count DESC, cardinality(r.liked_by) DESC, r.created_at DESC"
	default:
		return "r.created_at DESC"
	}
}

// List returns one page of recipes matching opts and the total match count.
func (s *RecipeStore) List(ctx context.Context, opts store.ListRecipesOptions) ([]*models.Recipe, int, error) {
	var where whereBuilder
	if opts.Status != "" {
		where.add("r.status = ?", opts.Status)
	}
	if opts.Category != "" {
		where.add("r.category = ?", opts.Category)
	}
	if opts.Difficulty != "" {
		where.add("r.difficulty = ?", opts.Difficulty)
	}
	if opts.AuthorID != "" {
		where.add("r.author_id = ?", opts.AuthorID)
	}
	if opts.Search != "" {
		where.add("(r.title ILIKE ? OR r.description ILIKE ?)", "%"+likeEscaper.Replace(opts.Search)+"%")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM recipes r`+where.String(), where.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count recipes: %w", mapPostgresError(err))
	}

	offset := max((opts.Page-1)*opts.Limit, 0)
	args := append(where.args, opts.Limit, offset)
	query := fmt.Sprintf(`
		SELECT %s, COALESCE(rt.avg_rating, 0) AS avg_rating, COALESCE(rt.review_count, 0) AS review_count
		FROM recipes r
		LEFT JOIN (
			SELECT recipe_id, AVG(rating)::float8 AS avg_rating, COUNT(*)::int AS review_count
			FROM reviews
			GROUP BY recipe_id
		) rt ON rt.recipe_id = r.recipe_id
		%s
		ORDER BY %s
		LIMIT $%d OFFSET $%d
	`, recipeColumns, where.String(), recipeOrderBy(opts.Sort), len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list recipes: %w", mapPostgresError(err))
	}
	defer rows.Close()

	recipes := make([]*models.Recipe, 0, opts.Limit)
	for rows.Next() {
		var avg float64
		var count int
		r, err := scanRecipe(rows, &avg, &count)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan recipe: %w", err)
		}
		if opts.Sort == store.SortRating {
			r.AverageRating, r.ReviewCount = avg, count
		}
		recipes = append(recipes, r)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate recipes: %w", err)
	}

	return recipes, total, nil
}

// SetStatus sets the moderation status of a recipe.
func (s *RecipeStore) SetStatus(ctx context.Context, recipeID string, status models.RecipeStatus) (*models.Recipe, error) {
	r, err := scanRecipe(s.pool.QueryRow(ctx, `
		UPDATE recipes r SET status = $2, updated_at = now()
		WHERE r.recipe_id = $1
		RETURNING `+recipeColumns, recipeID, status))
	if err != nil {
		return nil, recipeRowNotFound(err, "set recipe status")
	}
	return r, nil
}

// ToggleLike adds or removes userID from the recipe's likes in one statement.
func (s *RecipeStore) ToggleLike(ctx context.Context, recipeID, userID string) (bool, int, error) {
	var liked bool
	var count int
	err := s.pool.QueryRow(ctx, `
		UPDATE recipes SET liked_by = CASE
				WHEN $2 = ANY(liked_by) THEN array_remove(liked_by, $2)
				ELSE array_append(liked_by, $2)
			END
		WHERE recipe_id = $1
		RETURNING $2 = ANY(liked_by), cardinality(liked_by)
	`, recipeID, userID).Scan(&liked, &count)
	if err != nil {
		return false, 0, recipeRowNotFound(err, "toggle like")
	}
	return liked, count, nil
}

// AddView records a unique view and returns the view count.
func (s *RecipeStore) AddView(ctx context.Context, recipeID, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		UPDATE recipes SET viewed_by = CASE
				WHEN $2 = ANY(viewed_by) THEN viewed_by
				ELSE array_append(viewed_by, $2)
			END
		WHERE recipe_id = $1
		RETURNING cardinality(viewed_by)
	`, recipeID, userID).Scan(&count)
	if err != nil {
		return 0, recipeRowNotFound(err, "record view")
	}
	return count, nil
}

// Random picks a published recipe meeting the like and review thresholds.
func (s *RecipeStore) Random(ctx context.Context, minLikes, minReviews int) (*models.Recipe, error) {
	r, err := scanRecipe(s.pool.QueryRow(ctx, `
		SELECT `+recipeColumns+`
		FROM recipes r
		WHERE r.status = 'published'
			AND cardinality(r.liked_by) >= $1
			AND (SELECT COUNT(*) FROM reviews rv WHERE rv.recipe_id = r.recipe_id) >= $2
		ORDER BY random()
		LIMIT 1
	`, minLikes, minReviews))
	if err != nil {
		return nil, recipeRowNotFound(err, "pick random recipe")
	}
	return r, nil
}

// SetImage replaces the recipe image and returns the previous storage path.
func (s *RecipeStore) SetImage(ctx context.Context, recipeID, url, storagePath string) (string, error) {
	var previous string
	err := s.pool.QueryRow(ctx, `
		UPDATE recipes r SET image_url = $2, image_storage_path = $3, updated_at = now()
		FROM (SELECT image_storage_path FROM recipes WHERE recipe_id = $1 FOR UPDATE) old
		WHERE r.recipe_id = $1
		RETURNING old.image_storage_path
	`, recipeID, url, storagePath).Scan(&previous)
	if err != nil {
		return "", recipeRowNotFound(err, "set recipe image")
	}
	return previous, nil
}

// DeleteByAuthor removes every recipe by authorID. Reviews of those recipes
// go with them through the foreign key cascade.
func (s *RecipeStore) DeleteByAuthor(ctx context.Context, authorID string) ([]*models.Recipe, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM recipes r WHERE r.author_id = $1
		RETURNING `+recipeColumns, authorID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete recipes: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var deleted []*models.Recipe
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipe: %w", err)
		}
		deleted = append(deleted, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recipes: %w", err)
	}

	return deleted, nil
}
