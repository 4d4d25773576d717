package repo

import (
	"context"
	"time"

	"CarryChat/internal/db"
	"CarryChat/internal/model"

	"go.mongodb.org/mongo-driver/mongo"
)

type UserRepository interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
}

type userRepository struct {
	users *db.Repository[model.User]
}

func NewUserRepository(con *mongo.Database, collection string) UserRepository {
	return &userRepository{
		users: db.NewRepository[model.User](con, collection),
	}
}

func (r *userRepository) GetUser(ctx context.Context, userID string) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return r.users.FindOne(ctx, db.NewFilter().Eq("user_id", userID).Build())
}
