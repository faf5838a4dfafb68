package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/example/grouple/internal/models"
)

// ErrIntentNotFound is returned when no checkout intent exists for a
// payment reference, either because checkout never began here or because the
// intent was already consumed.
var ErrIntentNotFound = errors.New("checkout intent not found")

// IntentStore keeps the checkout intent alive across the off-site redirect
// window. The storage strategy is swappable; the default is the application
// database so both the polling and webhook paths can reach it.
type IntentStore interface {
	Save(ctx context.Context, intent *models.CheckoutIntent) error
	Find(ctx context.Context, paymentReference string) (*models.CheckoutIntent, error)
	Delete(ctx context.Context, paymentReference string) error
}

// GormIntentStore persists checkout intents in the application database.
type GormIntentStore struct {
	db *gorm.DB
}

func NewGormIntentStore(db *gorm.DB) *GormIntentStore {
	return &GormIntentStore{db: db}
}

func (s *GormIntentStore) Save(ctx context.Context, intent *models.CheckoutIntent) error {
	if err := s.db.WithContext(ctx).Create(intent).Error; err != nil {
		return &PersistenceError{Op: "save checkout intent", Err: err}
	}
	return nil
}

func (s *GormIntentStore) Find(ctx context.Context, paymentReference string) (*models.CheckoutIntent, error) {
	var intent models.CheckoutIntent
	err := s.db.WithContext(ctx).
		Where("payment_reference = ?", paymentReference).
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, &PersistenceError{Op: "find checkout intent", Err: err}
	}
	return &intent, nil
}

func (s *GormIntentStore) Delete(ctx context.Context, paymentReference string) error {
	err := s.db.WithContext(ctx).
		Where("payment_reference = ?", paymentReference).
		Delete(&models.CheckoutIntent{}).Error
	if err != nil {
		return &PersistenceError{Op: "delete checkout intent", Err: err}
	}
	return nil
}
