package zablog

// Op names a state-machine transition. The set is closed and mirrors
// the tree's own operation set exactly, so the log never needs to
// know anything about node kinds or tree structure.
type Op string

const (
	OpCreateDir        Op = "create-dir"
	OpCreateFile       Op = "create-file"
	OpSetFile          Op = "set-file"
	OpDelete           Op = "delete"
	OpCreateSequential Op = "create-sequential"
	OpRegisterMember   Op = "register-member"
	OpUnregisterMember Op = "unregister-member"
)

// Command is one committed (or about-to-be-proposed) state-machine
// transition. It is the unit replicated by the ZAB engine and the
// unit applied by the tree.
type Command struct {
	Zxid Zxid

	Op   Op
	Path string

	// Content is the new file body (OpCreateFile, OpSetFile only).
	Content []byte

	// Recursive and Transient mirror the query flags of the request
	// that produced this command (OpCreateDir, OpCreateFile,
	// OpSetFile; OpDelete uses Recursive only).
	Recursive bool
	Transient bool

	// ExpectedVersion, when non-nil, requests a conditional mutation:
	// the target's current version must equal *ExpectedVersion (for
	// OpCreateDir it is the parent directory's version that is
	// compared; for file writes, -1 means "must not already exist").
	// Nil means unconditional.
	ExpectedVersion *int64
}

// WithZxid returns a copy of c stamped with zxid, used by the leader
// once it has assigned the command its place in the log.
func (c Command) WithZxid(zxid Zxid) Command {
	c.Zxid = zxid
	return c
}
