package imap

// FlagSet is the action taken on one flag in a SetFlags call.
type FlagSet int

const (
	FlagUnset FlagSet = iota
	FlagAdd
	FlagRemove
)

// Flags selects which standard flags (and custom keywords) SetFlags adds
// or removes. Field names double as the flag names on the wire, so they
// must match RFC 3501 system flags.
type Flags struct {
	Seen     FlagSet
	Answered FlagSet
	Flagged  FlagSet
	Deleted  FlagSet
	Draft    FlagSet
	Keywords map[string]bool
}
