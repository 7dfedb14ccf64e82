package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/craftlinedata/factory_backend/config"
	"bitbucket.org/craftlinedata/factory_backend/utils"
)

type Vendor struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	Email      string    `gorm:"size:255" json:"email"`
	Phone      string    `gorm:"size:50" json:"phone"`
	GstNumber  string    `gorm:"size:50" json:"gst_number"`
	Address    string    `gorm:"type:text" json:"address"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (v *Vendor) GetBusinessId() string { return v.BusinessId }

type NewVendor struct {
	Name      string `json:"name" binding:"required"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	GstNumber string `json:"gst_number"`
	Address   string `json:"address"`
}

func (input *NewVendor) validate() error {
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, "IN"); err != nil {
			return err
		}
	}
	return nil
}

func CreateVendor(ctx context.Context, input *NewVendor) (*Vendor, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	vendor := Vendor{
		BusinessId: businessId,
		Name:       input.Name,
		Email:      input.Email,
		Phone:      input.Phone,
		GstNumber:  input.GstNumber,
		Address:    input.Address,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&vendor).Error; err != nil {
		return nil, err
	}
	return &vendor, nil
}

func UpdateVendor(ctx context.Context, id int, input *NewVendor) (*Vendor, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	vendor, err := utils.FetchModel[Vendor](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(vendor).Updates(map[string]interface{}{
		"Name":      input.Name,
		"Email":     input.Email,
		"Phone":     input.Phone,
		"GstNumber": input.GstNumber,
		"Address":   input.Address,
	}).Error
	if err != nil {
		return nil, err
	}
	return vendor, nil
}

func DeleteVendor(ctx context.Context, id int) (*Vendor, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	vendor, err := utils.FetchModel[Vendor](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var refs int64
	if err := db.WithContext(ctx).Model(&Purchase{}).
		Where("business_id = ? AND vendor_id = ?", businessId, id).
		Count(&refs).Error; err != nil {
		return nil, err
	}
	if refs > 0 {
		return nil, errors.New("vendor is referenced by purchases and cannot be deleted")
	}

	if err := db.WithContext(ctx).Delete(vendor).Error; err != nil {
		return nil, err
	}
	return vendor, nil
}

func GetVendor(ctx context.Context, id int) (*Vendor, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Vendor](ctx, businessId, id)
}

func GetVendors(ctx context.Context, name *string) ([]*Vendor, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	query := db.WithContext(ctx).Where("business_id = ?", businessId)
	if name != nil && *name != "" {
		query = query.Where("name LIKE ?", "%"+*name+"%").Limit(config.SearchLimit)
	}

	var vendors []*Vendor
	if err := query.Order("name").Find(&vendors).Error; err != nil {
		return nil, err
	}
	return vendors, nil
}
