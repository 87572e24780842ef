package model

import "time"

// Product is the sellable item. Stock lives on its options.
type Product struct {
	ProductID int64     `json:"product_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"-"`
}

// ProductOption is the unit of inventory. Stock mutations happen only under
// the product:stock KV-lock plus a pessimistic row lock; stock never goes
// below zero at a commit point.
type ProductOption struct {
	OptionID  int64     `json:"option_id"`
	ProductID int64     `json:"product_id"`
	Name      string    `json:"name"`
	UnitPrice int64     `json:"unit_price"`
	Stock     int       `json:"stock"`
	Version   int64     `json:"-"`
	UpdatedAt time.Time `json:"-"`
}
