package domain

var Tables = []interface{}{
	// Catalog
	&Product{},
	// Ledger
	&Order{},
	// Notification
	&DeadLetter{},
}
