package repository

import (
	"context"
	"errors"
	"fmt"

	"golang-stock-pulse/internal/entity"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StocksRepository interface {
	Get(ctx context.Context, ticker string) (*entity.Stock, error)
	List(ctx context.Context) ([]entity.Stock, error)
	Upsert(ctx context.Context, stock *entity.Stock) error
}

type stocksRepository struct {
	db *gorm.DB
}

func NewStocksRepository(db *gorm.DB) StocksRepository {
	return &stocksRepository{db: db}
}

func (s *stocksRepository) Get(ctx context.Context, ticker string) (*entity.Stock, error) {
	var stock entity.Stock
	err := s.db.WithContext(ctx).Where("ticker = ?", ticker).First(&stock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("stock %s: %w", ticker, entity.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &stock, nil
}

func (s *stocksRepository) List(ctx context.Context) ([]entity.Stock, error) {
	var stocks []entity.Stock
	if err := s.db.WithContext(ctx).Order("ticker asc").Find(&stocks).Error; err != nil {
		return nil, err
	}
	return stocks, nil
}

// Upsert inserts the stock or refreshes its metadata; created_at is never overwritten.
func (s *stocksRepository) Upsert(ctx context.Context, stock *entity.Stock) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticker"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "sector", "industry", "updated_at"}),
	}).Create(stock).Error
}
