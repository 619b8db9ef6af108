package models

import "gorm.io/gorm"

func allModels() []interface{} {
	return []interface{}{
		&Order{},
		&OrderStage{},
		&Stock{},
		&StockMovement{},
		&OrderMaterial{},
		&OrderProcessing{},
		&WeightTransfer{},
		&WeightTransferApproval{},
		&InventoryRequest{},
		&ApprovalHistory{},
		&Waste{},
	}
}

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(allModels()...)
}
