package services

import (
	"context"
	"log"
	"time"

	"Linkup/server/internal/db"
	"Linkup/server/internal/models"
	"Linkup/server/internal/utils"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
)

type UserService interface {
	CheckUserExists(ctx context.Context, username, email string) (bool, error)
	CreateUser(ctx context.Context, user *models.User) (int, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserById(ctx context.Context, id int) (*models.User, error)
	IncrementFailedLoginAttempts(ctx context.Context, userID int) (*models.User, error)
	ResetFailedLoginAttempts(ctx context.Context, userID int) error
	LockAccount(ctx context.Context, userID int, duration time.Duration) error
}

type userService struct{}

func NewUserService() UserService {
	return &userService{}
}

func (us *userService) CheckUserExists(ctx context.Context, username, email string) (bool, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("COUNT(*)").
		From("users").
		Where(squirrel.Or{
			squirrel.Eq{"username": username},
			squirrel.Eq{"email": email},
		})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return false, errors.Wrap(err, "building query")
	}

	var count int
	err = db.Pool.QueryRow(ctx, sqlStr, args...).Scan(&count)
	if err != nil {
		log.Printf("Error checking user existence: %v", err)
		return false, errors.Wrap(err, "checking user existence")
	}

	return count > 0, nil
}

func (us *userService) CreateUser(ctx context.Context, user *models.User) (int, error) {
	hashedPassword, err := utils.HashPassword(user.PasswordHash)
	if err != nil {
		return 0, errors.Wrap(err, "hashing password")
	}

	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Insert("users").
		Columns("username", "email", "password_hash").
		Values(user.Username, user.Email, hashedPassword).
		Suffix("RETURNING id")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}

	var userID int
	err = db.Pool.QueryRow(ctx, sqlStr, args...).Scan(&userID)
	if err != nil {
		log.Printf("Error creating user %s: %v", user.Username, err)
		return 0, errors.Wrap(err, "creating user")
	}

	log.Printf("User created with ID %d", userID)
	return userID, nil
}

func (us *userService) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("id", "username", "email", "password_hash", "profile_image_url", "failed_attempts", "locked_until", "created_at").
		From("users").
		Where(squirrel.Eq{"email": email})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var user models.User
	err = db.Pool.QueryRow(ctx, sqlStr, args...).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.ProfileImageURL, &user.FailedAttempts, &user.LockedUntil, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrUserNotFound
		}
		log.Printf("Error getting user by email %s: %v", email, err)
		return nil, errors.Wrap(err, "getting user by email")
	}

	return &user, nil
}

func (us *userService) GetUserById(ctx context.Context, id int) (*models.User, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("id", "username", "email", "password_hash", "profile_image_url", "failed_attempts", "locked_until", "created_at").
		From("users").
		Where(squirrel.Eq{"id": id})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var user models.User
	err = db.Pool.QueryRow(ctx, sqlStr, args...).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.ProfileImageURL, &user.FailedAttempts, &user.LockedUntil, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrUserNotFound
		}
		log.Printf("Error getting user by ID %d: %v", id, err)
		return nil, errors.Wrap(err, "getting user by id")
	}

	return &user, nil
}

func (us *userService) IncrementFailedLoginAttempts(ctx context.Context, userID int) (*models.User, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Update("users").
		Set("failed_attempts", squirrel.Expr("failed_attempts + 1")).
		Where(squirrel.Eq{"id": userID}).
		Suffix("RETURNING failed_attempts")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var attempts int
	err = db.Pool.QueryRow(ctx, sqlStr, args...).Scan(&attempts)
	if err != nil {
		log.Printf("Error incrementing failed attempts for user %d: %v", userID, err)
		return nil, errors.Wrap(err, "incrementing failed attempts")
	}

	return &models.User{ID: userID, FailedAttempts: attempts}, nil
}

func (us *userService) ResetFailedLoginAttempts(ctx context.Context, userID int) error {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Update("users").
		Set("failed_attempts", 0).
		Set("locked_until", nil).
		Where(squirrel.Eq{"id": userID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}

	_, err = db.Pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		log.Printf("Error resetting failed attempts for user %d: %v", userID, err)
		return errors.Wrap(err, "resetting failed attempts")
	}
	return nil
}

func (us *userService) LockAccount(ctx context.Context, userID int, duration time.Duration) error {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Update("users").
		Set("locked_until", time.Now().Add(duration)).
		Where(squirrel.Eq{"id": userID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}

	_, err = db.Pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		log.Printf("Error locking account for user %d: %v", userID, err)
		return errors.Wrap(err, "locking account")
	}

	log.Printf("Account locked for user %d until %v", userID, time.Now().Add(duration))
	return nil
}
