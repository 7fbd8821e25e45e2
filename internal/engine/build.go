package engine

// Built reports whether the in-process llama runtime is compiled in.
func Built() bool { return llamaBuilt }
