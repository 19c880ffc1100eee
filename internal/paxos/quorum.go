package paxos

// Threshold is the majority size of a cluster of n nodes.
func Threshold(n int) int {
	return n/2 + 1
}

// HasQuorum reports whether votes, counting the proposer's own vote, form a
// majority of n.
func HasQuorum(votes, n int) bool {
	return votes >= Threshold(n)
}
