package shared

import "fmt"

// StockLockKey builds redis keys guarding FIFO consumption of one item within one GD.
func StockLockKey(itemID string, gdID int64) string {
	return fmt.Sprintf("stock:gd:%d:item:%s:lock", gdID, itemID)
}

// GDLockKey builds redis keys guarding header level GD transitions.
func GDLockKey(gdID int64) string {
	return fmt.Sprintf("stock:gd:%d:lock", gdID)
}
