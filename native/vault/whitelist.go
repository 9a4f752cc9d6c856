package vault

// Whitelist is the bounded, duplicate-free set of asset identifiers eligible
// for trading. Mutations go through the owner-only admin operations; any
// component may query it. Order is not semantically meaningful: removal uses
// swap-and-shrink.
type Whitelist struct {
	assets []string
}

// Contains reports whether asset is whitelisted.
func (w *Whitelist) Contains(asset string) bool {
	if w == nil {
		return false
	}
	for _, entry := range w.assets {
		if entry == asset {
			return true
		}
	}
	return false
}

// Len reports the number of whitelisted assets.
func (w *Whitelist) Len() int {
	if w == nil {
		return 0
	}
	return len(w.assets)
}

// Assets returns a defensive copy of the whitelisted identifiers.
func (w *Whitelist) Assets() []string {
	if w == nil {
		return nil
	}
	return append([]string{}, w.assets...)
}

// Add inserts asset, rejecting duplicates and additions beyond capacity.
func (w *Whitelist) Add(asset string) *Rejection {
	if w.Contains(asset) {
		return reject(KindPrecondition, CodeDuplicateMint, "asset %s already whitelisted", asset)
	}
	if len(w.assets) >= MaxWhitelistEntries {
		return reject(KindPrecondition, CodeWhitelistFull,
			"whitelist at capacity (%d entries)", MaxWhitelistEntries)
	}
	w.assets = append(w.assets, asset)
	return nil
}

// Remove deletes asset via swap-and-shrink, rejecting when absent.
func (w *Whitelist) Remove(asset string) *Rejection {
	for i, entry := range w.assets {
		if entry == asset {
			last := len(w.assets) - 1
			w.assets[i] = w.assets[last]
			w.assets = w.assets[:last]
			return nil
		}
	}
	return reject(KindPrecondition, CodeUnknownMint, "asset %s not whitelisted", asset)
}
