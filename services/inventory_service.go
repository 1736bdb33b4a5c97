package services

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"

	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/blob"
	"Gin_postgres_redis_loan_manager/db"
	"Gin_postgres_redis_loan_manager/models"
)

// InventoryService owns equipment and categories. Quantity counters only move
// through the loan state machine; here they are set at creation and patched by managers.
type InventoryService struct {
	Repo     *db.Repo
	Blobs    blob.Store
	MaxLimit int
}

func NewInventoryService(repo *db.Repo, blobs blob.Store, maxLimit int) *InventoryService {
	return &InventoryService{Repo: repo, Blobs: blobs, MaxLimit: maxLimit}
}

type ItemInput struct {
	Name          string           `json:"nom" validate:"required,min=2,max=200"`
	Description   string           `json:"description" validate:"max=1000"`
	Brand         string           `json:"marque" validate:"max=100"`
	Model         string           `json:"modele" validate:"max=100"`
	CategoryID    uint             `json:"categorie_id" validate:"required"`
	TotalQuantity int              `json:"quantite_totale" validate:"required,min=1,max=1000"`
	UnitPrice     int64            `json:"prix_unitaire" validate:"gte=0"`
	Condition     models.Condition `json:"etat" validate:"omitempty,oneof=excellent good fair poor out_of_service"`
	SerialNumber  *string          `json:"numero_serie" validate:"omitempty,max=100"`
	Location      string           `json:"localisation" validate:"max=200"`
}

func (s *InventoryService) CreateItem(ctx context.Context, in ItemInput, actor db.Actor) (*models.EquipmentItem, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := check(in); err != nil {
		return nil, err
	}
	it := &models.EquipmentItem{
		Name:          in.Name,
		Description:   strings.TrimSpace(in.Description),
		Brand:         strings.TrimSpace(in.Brand),
		Model:         strings.TrimSpace(in.Model),
		CategoryID:    in.CategoryID,
		TotalQuantity: in.TotalQuantity,
		UnitPrice:     in.UnitPrice,
		Condition:     in.Condition,
		SerialNumber:  in.SerialNumber,
		Location:      strings.TrimSpace(in.Location),
	}
	if err := s.Repo.CreateItem(ctx, it, actor); err != nil {
		return nil, err
	}
	return it, nil
}

// ItemUpdate mirrors db.ItemPatch with validation tags; absent fields stay unchanged.
type ItemUpdate struct {
	Name              *string           `json:"nom" validate:"omitempty,min=2,max=200"`
	Description       *string           `json:"description" validate:"omitempty,max=1000"`
	Brand             *string           `json:"marque" validate:"omitempty,max=100"`
	Model             *string           `json:"modele" validate:"omitempty,max=100"`
	CategoryID        *uint             `json:"categorie_id" validate:"omitempty,gt=0"`
	TotalQuantity     *int              `json:"quantite_totale" validate:"omitempty,min=1,max=1000"`
	AvailableQuantity *int              `json:"quantite_disponible" validate:"omitempty,gte=0"`
	UnitPrice         *int64            `json:"prix_unitaire" validate:"omitempty,gte=0"`
	Condition         *models.Condition `json:"etat" validate:"omitempty,oneof=excellent good fair poor out_of_service"`
	SerialNumber      *string           `json:"numero_serie" validate:"omitempty,max=100"`
	Location          *string           `json:"localisation" validate:"omitempty,max=200"`
}

func (s *InventoryService) UpdateItem(ctx context.Context, id string, in ItemUpdate, actor db.Actor) (*models.EquipmentItem, error) {
	if err := check(in); err != nil {
		return nil, err
	}
	if in.TotalQuantity != nil && in.AvailableQuantity != nil && *in.AvailableQuantity > *in.TotalQuantity {
		return nil, apperr.ErrInvalidQuantity
	}
	return s.Repo.UpdateItem(ctx, id, db.ItemPatch{
		Name:              in.Name,
		Description:       in.Description,
		Brand:             in.Brand,
		Model:             in.Model,
		CategoryID:        in.CategoryID,
		TotalQuantity:     in.TotalQuantity,
		AvailableQuantity: in.AvailableQuantity,
		UnitPrice:         in.UnitPrice,
		Condition:         in.Condition,
		SerialNumber:      in.SerialNumber,
		Location:          in.Location,
	}, actor)
}

// DeleteItem refuses while units are out on loan; the photo goes with the item.
func (s *InventoryService) DeleteItem(ctx context.Context, id string, actor db.Actor) error {
	it, err := s.Repo.FindItemByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Repo.DeleteItem(ctx, id, actor); err != nil {
		return err
	}
	if it.ImageKey != "" && s.Blobs != nil {
		if err := s.Blobs.Delete(ctx, it.ImageKey); err != nil {
			log.Printf("delete photo %s: %v", it.ImageKey, err)
		}
	}
	return nil
}

func (s *InventoryService) GetItem(ctx context.Context, id string) (*models.EquipmentItem, error) {
	return s.Repo.FindItemByID(ctx, id)
}

func (s *InventoryService) ListItems(ctx context.Context, f db.EquipmentFilter) (db.Page[models.EquipmentItem], error) {
	p, err := db.NormalizeList(f.ListParams, s.MaxLimit)
	if err != nil {
		return db.Page[models.EquipmentItem]{}, err
	}
	f.ListParams = p
	if f.Condition != "" && !f.Condition.Valid() {
		return db.Page[models.EquipmentItem]{}, apperr.Field("etat", "unknown condition")
	}
	return s.Repo.ListEquipment(ctx, f)
}

type CategoryInput struct {
	Name        string `json:"nom" validate:"required,min=2,max=100"`
	Description string `json:"description" validate:"max=500"`
	Color       string `json:"couleur" validate:"omitempty,color"`
}

func (s *InventoryService) CreateCategory(ctx context.Context, in CategoryInput, actor db.Actor) (*models.Category, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := check(in); err != nil {
		return nil, err
	}
	c := &models.Category{Name: in.Name, Description: strings.TrimSpace(in.Description), Color: in.Color}
	if err := s.Repo.CreateCategory(ctx, c, actor); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *InventoryService) ListCategories(ctx context.Context) ([]models.Category, error) {
	return s.Repo.ListCategories(ctx)
}

var imageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

func photoKey(itemID string) string { return "equipment/" + itemID + "/photo" }

// SetPhoto stores the photo then records its key; a replaced photo keeps the same key.
func (s *InventoryService) SetPhoto(ctx context.Context, itemID string, r io.Reader, contentType string) (*models.EquipmentItem, error) {
	if !imageTypes[contentType] {
		return nil, apperr.Field("file", "unsupported image type")
	}
	if _, err := s.Repo.FindItemByID(ctx, itemID); err != nil {
		return nil, err
	}
	key := photoKey(itemID)
	if err := s.Blobs.Put(ctx, key, r, contentType); err != nil {
		return nil, err
	}
	if err := s.Repo.SetItemImage(ctx, itemID, key); err != nil {
		return nil, err
	}
	return s.Repo.FindItemByID(ctx, itemID)
}

// Photo streams the stored photo; the caller closes the reader.
func (s *InventoryService) Photo(ctx context.Context, itemID string) (io.ReadCloser, string, error) {
	it, err := s.Repo.FindItemByID(ctx, itemID)
	if err != nil {
		return nil, "", err
	}
	if it.ImageKey == "" {
		return nil, "", apperr.ErrNotFound
	}
	rc, ct, err := s.Blobs.Get(ctx, it.ImageKey)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, "", apperr.ErrNotFound
	}
	return rc, ct, err
}

func (s *InventoryService) Stats(ctx context.Context) (db.Stats, error) {
	return s.Repo.Stats(ctx)
}
