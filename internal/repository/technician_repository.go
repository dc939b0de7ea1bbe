package repository

import (
	"context"

	"gorm.io/gorm"

	"fieldops-service/internal/model"
)

// TechnicianRepository reads the technician directory.
type TechnicianRepository struct {
	db *gorm.DB
}

func NewTechnicianRepository(db *gorm.DB) *TechnicianRepository {
	return &TechnicianRepository{db: db}
}

func (r *TechnicianRepository) Create(ctx context.Context, technician *model.Technician) error {
	return r.db.WithContext(ctx).Create(technician).Error
}

func (r *TechnicianRepository) GetByID(ctx context.Context, id uint) (*model.Technician, error) {
	var technician model.Technician
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&technician).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &technician, nil
}

func (r *TechnicianRepository) ListByIDs(ctx context.Context, ids []uint) ([]model.Technician, error) {
	var technicians []model.Technician
	if len(ids) == 0 {
		return technicians, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&technicians).Error
	return technicians, err
}

func (r *TechnicianRepository) ListAvailable(ctx context.Context) ([]model.Technician, error) {
	var technicians []model.Technician
	err := r.db.WithContext(ctx).
		Where("status = ?", model.TechnicianStatusAvailable).
		Order("id ASC").
		Find(&technicians).Error
	return technicians, err
}
