package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireBusinessPostingLock serializes posting per business across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB that will do the posting.
func AcquireBusinessPostingLock(tx *gorm.DB, businessId string) error {
	lockName := fmt.Sprintf("posting:%s", businessId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock for business_id=%s", businessId)
	}
	return nil
}

func ReleaseBusinessPostingLock(tx *gorm.DB, businessId string) {
	lockName := fmt.Sprintf("posting:%s", businessId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

// AcquireMaterialRebuildLock guards a single material's ledger replay.
func AcquireMaterialRebuildLock(tx *gorm.DB, businessId string, materialId int) error {
	lockName := fmt.Sprintf("inv_rebuild:%s:%d", businessId, materialId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire rebuild lock for business_id=%s material_id=%d", businessId, materialId)
	}
	return nil
}

func ReleaseMaterialRebuildLock(tx *gorm.DB, businessId string, materialId int) {
	lockName := fmt.Sprintf("inv_rebuild:%s:%d", businessId, materialId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
