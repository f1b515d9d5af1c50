package main

import (
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is a document of the users collection.
type User struct {
	ID   primitive.ObjectID `bson:"_id,omitempty"`
	Name string             `bson:"name"`
	Age  float64            `bson:"age"`
}

// Item is a document of the items collection.
type Item struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Name        string             `bson:"name"`
	Description string             `bson:"description"`
	Price       float64            `bson:"price"`
}

type userView struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Age  float64 `json:"age"`
}

type itemView struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
}

func (u User) view() any {
	return userView{ID: u.ID.Hex(), Name: u.Name, Age: u.Age}
}

func (i Item) view() any {
	return itemView{ID: i.ID.Hex(), Name: i.Name, Description: i.Description, Price: i.Price}
}

// CreateUserRequest is the payload for creating a new user.
type CreateUserRequest struct {
	Name *string  `json:"name"`
	Age  *float64 `json:"age"`
}

func (r *CreateUserRequest) validate() error {
	if r.Name == nil || strings.TrimSpace(*r.Name) == "" {
		return errors.New("name is required")
	}
	if r.Age == nil {
		return errors.New("age is required")
	}
	return nil
}

// naturalKey is the (name, age) pair no two users may share.
func (r *CreateUserRequest) naturalKey() bson.M {
	return bson.M{"name": *r.Name, "age": *r.Age}
}

func (r *CreateUserRequest) document() any {
	return User{Name: *r.Name, Age: *r.Age}
}

// UpdateUserRequest is the partial payload for updating a user.
type UpdateUserRequest struct {
	Name *string  `json:"name"`
	Age  *float64 `json:"age"`
}

func (r *UpdateUserRequest) fields() bson.M {
	set := bson.M{}
	if r.Name != nil {
		set["name"] = *r.Name
	}
	if r.Age != nil {
		set["age"] = *r.Age
	}
	return set
}

// CreateItemRequest is the payload for creating a new item.
type CreateItemRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
}

func (r *CreateItemRequest) validate() error {
	if r.Name == nil || strings.TrimSpace(*r.Name) == "" {
		return errors.New("name is required")
	}
	if r.Description == nil {
		return errors.New("description is required")
	}
	if r.Price == nil {
		return errors.New("price is required")
	}
	return nil
}

func (r *CreateItemRequest) naturalKey() bson.M {
	return bson.M{"name": *r.Name}
}

func (r *CreateItemRequest) document() any {
	return Item{Name: *r.Name, Description: *r.Description, Price: *r.Price}
}

// UpdateItemRequest is the partial payload for updating an item.
type UpdateItemRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
}

func (r *UpdateItemRequest) fields() bson.M {
	set := bson.M{}
	if r.Name != nil {
		set["name"] = *r.Name
	}
	if r.Description != nil {
		set["description"] = *r.Description
	}
	if r.Price != nil {
		set["price"] = *r.Price
	}
	return set
}
