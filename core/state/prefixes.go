package state

var (
	accountPrefix   = []byte("account:")
	listingPrefix   = []byte("escrow/listing:")
	heldPrefix      = []byte("escrow/held:")
	deedPrefix      = []byte("deed/token:")
	deedSequenceKey = []byte("deed/sequence")
)

// VaultModule is the module-account name whose derived address holds all
// escrowed funds and title deeds.
const VaultModule = "escrow/vault"
