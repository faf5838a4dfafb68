package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/grouple/internal/models"
)

// DefaultChannelName is created inside every new group.
const DefaultChannelName = "General"

// GroupService persists groups and their channels.
type GroupService struct {
	db *gorm.DB
}

func NewGroupService(db *gorm.DB) *GroupService {
	return &GroupService{db: db}
}

// MaterializeGroupParams carries the confirmed-payment fields for group
// materialization. Callers are responsible for only passing payments already
// confirmed PAID; this operation does not re-verify.
type MaterializeGroupParams struct {
	PaymentReference     string
	TransactionReference string
	PaidAmount           float64
	Name                 string
	Category             string
	UserID               uuid.UUID
}

// MaterializeGroup creates the group for a confirmed payment exactly once.
//
// The webhook path and the polling path can race on the same payment
// reference, possibly from different processes, so the uniqueness constraint
// on payment_reference is the arbiter: the insert is attempted with
// ON CONFLICT DO NOTHING and a losing attempt returns the already-created
// group instead of an error.
func (s *GroupService) MaterializeGroup(ctx context.Context, params MaterializeGroupParams) (*models.Group, error) {
	if strings.TrimSpace(params.PaymentReference) == "" {
		return nil, &ValidationError{Message: "payment reference is required"}
	}
	if err := validateGroupFields(params.Name, params.Category, params.UserID); err != nil {
		return nil, err
	}

	ref := params.PaymentReference
	group := models.Group{
		Name:                 params.Name,
		Category:             params.Category,
		UserID:               params.UserID,
		PaymentReference:     &ref,
		TransactionReference: params.TransactionReference,
		PaidAmount:           params.PaidAmount,
		Status:               models.GroupStatusPending,
		Privacy:              models.GroupPrivacyPrivate,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_reference"}},
			DoNothing: true,
		}).Create(&group)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			// Lost the race: another path already materialized this reference.
			return tx.Preload("Channels").
				Where("payment_reference = ?", ref).
				First(&group).Error
		}

		channel := models.Channel{GroupID: group.ID, Name: DefaultChannelName}
		if err := tx.Create(&channel).Error; err != nil {
			return err
		}
		group.Channels = []models.Channel{channel}
		return nil
	})
	if err != nil {
		return nil, &PersistenceError{Op: "materialize group", Err: err}
	}

	return &group, nil
}

// CreateGroup persists a group outside the payment flow, with the default
// channel. Used by the direct creation endpoint.
func (s *GroupService) CreateGroup(ctx context.Context, userID uuid.UUID, name, category string) (*models.Group, error) {
	if err := validateGroupFields(name, category, userID); err != nil {
		return nil, err
	}

	group := models.Group{
		Name:     name,
		Category: category,
		UserID:   userID,
		Status:   models.GroupStatusPending,
		Privacy:  models.GroupPrivacyPrivate,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&group).Error; err != nil {
			return err
		}
		channel := models.Channel{GroupID: group.ID, Name: DefaultChannelName}
		if err := tx.Create(&channel).Error; err != nil {
			return err
		}
		group.Channels = []models.Channel{channel}
		return nil
	})
	if err != nil {
		return nil, &PersistenceError{Op: "create group", Err: err}
	}

	return &group, nil
}

// GetGroup loads a group with its channels.
func (s *GroupService) GetGroup(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	var group models.Group
	if err := s.db.WithContext(ctx).Preload("Channels").First(&group, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "get group", Err: err}
	}
	return &group, nil
}

// FindGroupByReference returns the group materialized for a payment
// reference, or gorm.ErrRecordNotFound.
func (s *GroupService) FindGroupByReference(ctx context.Context, paymentReference string) (*models.Group, error) {
	var group models.Group
	err := s.db.WithContext(ctx).Preload("Channels").
		Where("payment_reference = ?", paymentReference).
		First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "find group by reference", Err: err}
	}
	return &group, nil
}

// ListGroupsByUser returns the groups owned by a user, newest first.
func (s *GroupService) ListGroupsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Group, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Group{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, &PersistenceError{Op: "count groups", Err: err}
	}

	var groups []models.Group
	if err := query.Preload("Channels").
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&groups).Error; err != nil {
		return nil, 0, &PersistenceError{Op: "list groups", Err: err}
	}

	return groups, total, nil
}

func validateGroupFields(name, category string, userID uuid.UUID) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Message: "group name is required"}
	}
	if strings.TrimSpace(category) == "" {
		return &ValidationError{Message: "category is required"}
	}
	if userID == uuid.Nil {
		return &ValidationError{Message: "user id is required"}
	}
	return nil
}
