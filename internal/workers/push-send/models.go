package pushsend

// batchOutcome carries one batch's result back from its goroutine.
type batchOutcome struct {
	index         int
	size          int
	invalidTokens []string
	err           error
}
