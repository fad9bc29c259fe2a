package latch

// DefaultSizeHint is a reasonable shard count hint for a single pager
// instance.
const DefaultSizeHint = 37

// primes is the ascending table scanned by nearestPrime. Dense at the
// low end where shard counts actually live, sparser above, topping out
// at 10007 shards.
var primes = []int{
	2, 3, 5, 7, 11, 13, 17, 19, 23, 29,
	31, 37, 41, 43, 47, 53, 59, 61, 67, 71,
	73, 79, 83, 89, 97, 101, 103, 107, 109, 113,
	127, 131, 137, 139, 149, 151, 157, 163, 167, 173,
	179, 181, 191, 193, 197, 199, 211, 223, 227, 229,
	233, 239, 241, 251, 257, 263, 269, 271, 277, 281,
	283, 293, 307, 311, 313, 317, 331, 337, 347, 349,
	353, 359, 367, 373, 379, 383, 389, 397, 401, 409,
	419, 421, 431, 433, 439, 443, 449, 457, 461, 463,
	467, 479, 487, 491, 499, 503, 509, 521, 523, 541,
	577, 613, 647, 691, 733, 769, 821, 863, 911, 953,
	1009, 1213, 1433, 1609, 1861, 2053, 2521, 3023, 3529, 4027,
	4519, 5003, 6007, 7001, 8009, 9001, 10007,
}

// nearestPrime returns the smallest table entry >= n, or the largest
// entry when n exceeds the table.
func nearestPrime(n int) int {
	for _, p := range primes {
		if p >= n {
			return p
		}
	}
	return primes[len(primes)-1]
}
