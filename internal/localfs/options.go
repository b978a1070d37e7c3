package localfs

// Options configures the local platform.
type Options struct {
	// IncludeHidden includes hidden files and directories (starting with .)
	// in directory listings. Default is false (hidden entries excluded).
	IncludeHidden bool

	// Prompter confirms read access for handles in the prompt state.
	// Nil denies every request.
	Prompter Prompter
}
