package models

import "time"

// Address is a row in the address table. WalletAddress is the natural key;
// the core never mutates or deletes a row once written.
type Address struct {
	ID            int64
	WalletAddress string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AddressChain is a row in address_chain: the association between an
// address and a chain it has been observed on. The pair
// (WalletAddressID, ChainID) is unique.
type AddressChain struct {
	ID              int64
	WalletAddressID int64
	ChainID         int64
	CreatedAt       time.Time
}
