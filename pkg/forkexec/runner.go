package forkexec

// RedirOp is the action applied to a child file descriptor before execve
type RedirOp int

// Redirection actions
const (
	// RedirKeep leaves Target as inherited from the parent
	RedirKeep RedirOp = iota
	// RedirClose closes Target in the child
	RedirClose
	// RedirDup duplicates the parent's Source onto Target in the child
	RedirDup
)

func (o RedirOp) String() string {
	switch o {
	case RedirKeep:
		return "keep"
	case RedirClose:
		return "close"
	case RedirDup:
		return "dup"
	default:
		return "unknown"
	}
}

// Redir is a single file descriptor rearrangement in the child
type Redir struct {
	Op     RedirOp
	Target int // fd number in the child
	Source int // fd number in the parent, only used by RedirDup
}

// Runner is the configuration including the exec path, argv, env and
// file descriptor rearrangements of the child process
type Runner struct {
	// path for execve syscall for the child process
	Path string

	// argv and env for execve syscall for the child process
	// argv may be empty and is passed as is (Path is not prepended)
	Args []string
	Env  []string

	// redirections applied in order after fork and before execve.
	// sources are read before any target is written, so a later redir
	// may use an fd number that an earlier one overwrites
	Redirs []Redir
}
