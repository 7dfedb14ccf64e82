package models

import (
	"log"

	"bitbucket.org/craftlinedata/factory_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Material{}, &Vendor{},
		&Purchase{}, &PurchaseItem{},
		&InventoryTransaction{},
		&Order{}, &OrderComponent{},
		&JobCard{}, &JobCardConsumption{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
