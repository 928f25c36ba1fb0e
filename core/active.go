package core

// ActiveKind tags which flow currently backs the published wallet
type ActiveKind string

const (
	ActiveNone      ActiveKind = "none"
	ActiveZk        ActiveKind = "zk"
	ActiveExtension ActiveKind = "extension"
)

// ActiveWallet is the resolved wallet state of a browser session.
// Wallet is nil iff Kind is ActiveNone.
type ActiveWallet struct {
	Kind   ActiveKind
	Wallet *WalletConnection
}

// ResolveWallet applies the precedence rule: zk identity wins over an
// extension wallet, and an incomplete record never wins.
func ResolveWallet(zk, extension *WalletConnection) ActiveWallet {
	if zk.Valid() {
		return ActiveWallet{Kind: ActiveZk, Wallet: zk}
	}
	if extension.Valid() {
		return ActiveWallet{Kind: ActiveExtension, Wallet: extension}
	}
	return ActiveWallet{Kind: ActiveNone}
}
