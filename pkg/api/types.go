package api

import (
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"github.com/iwoork/homeforpup-sub006/pkg/apperr"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
)

type createThreadRequest struct {
	SenderID     string   `json:"sender_id" validate:"required,max=128"`
	SenderName   string   `json:"sender_name" validate:"max=256"`
	ReceiverID   string   `json:"receiver_id" validate:"required,max=128,nefield=SenderID"`
	ReceiverName string   `json:"receiver_name" validate:"max=256"`
	Subject      string   `json:"subject" validate:"max=200"`
	Content      string   `json:"content" validate:"required"`
	MessageType  string   `json:"message_type" validate:"omitempty,oneof=general inquiry business urgent"`
	Attachments  []string `json:"attachments" validate:"max=10,dive,required"`
}

func (r createThreadRequest) model() models.NewThread {
	return models.NewThread{
		SenderID:     r.SenderID,
		SenderName:   r.SenderName,
		ReceiverID:   r.ReceiverID,
		ReceiverName: r.ReceiverName,
		Subject:      r.Subject,
		Content:      r.Content,
		MessageType:  models.MessageType(r.MessageType),
		Attachments:  r.Attachments,
	}
}

type appendMessageRequest struct {
	SenderID    string   `json:"sender_id" validate:"required,max=128"`
	SenderName  string   `json:"sender_name" validate:"max=256"`
	Content     string   `json:"content" validate:"required"`
	MessageType string   `json:"message_type" validate:"omitempty,oneof=general inquiry business urgent"`
	Attachments []string `json:"attachments" validate:"max=10,dive,required"`
	ReplyTo     string   `json:"reply_to" validate:"max=128"`
}

func (r appendMessageRequest) model(threadID string) models.NewMessage {
	return models.NewMessage{
		ThreadID:    threadID,
		SenderID:    r.SenderID,
		SenderName:  r.SenderName,
		Content:     r.Content,
		MessageType: models.MessageType(r.MessageType),
		Attachments: r.Attachments,
		ReplyTo:     r.ReplyTo,
	}
}

type markReadRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
}

type ThreadsResponse struct {
	Threads []models.Thread `json:"threads"`
}

type ThreadResponse struct {
	Thread models.Thread `json:"thread"`
}

type CreateThreadResponse struct {
	Thread  models.Thread  `json:"thread"`
	Message models.Message `json:"message"`
}

type MessageResponse struct {
	Message models.Message `json:"message"`
}

type UnreadResponse struct {
	UserID string `json:"user_id"`
	Unread int    `json:"unread"`
}

var validate = newValidator()

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check runs the struct tags and folds failures into one ValidationError.
func check(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("invalid request: %v", err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+": failed "+fe.Tag())
	}
	return apperr.Validation("%s", strings.Join(parts, "; "))
}
