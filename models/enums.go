package models

import (
	"bitbucket.org/craftlinedata/factory_backend/workflow"
)

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = PurchaseStatus(workflow.PurchaseStatusPending)
	PurchaseStatusCompleted PurchaseStatus = PurchaseStatus(workflow.PurchaseStatusCompleted)
	PurchaseStatusCancelled PurchaseStatus = PurchaseStatus(workflow.PurchaseStatusCancelled)
)

func (s PurchaseStatus) Valid() bool {
	switch s {
	case PurchaseStatusPending, PurchaseStatusCompleted, PurchaseStatusCancelled:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "Draft"
	OrderStatusConfirmed OrderStatus = "Confirmed"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusDraft, OrderStatusConfirmed, OrderStatusCancelled:
		return true
	}
	return false
}

type JobCardStatus string

const (
	JobCardStatusOpen       JobCardStatus = "Open"
	JobCardStatusInProgress JobCardStatus = "InProgress"
	JobCardStatusCompleted  JobCardStatus = "Completed"
)

func (s JobCardStatus) Valid() bool {
	switch s {
	case JobCardStatusOpen, JobCardStatusInProgress, JobCardStatusCompleted:
		return true
	}
	return false
}
