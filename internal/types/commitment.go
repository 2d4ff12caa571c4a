package types

import "strings"

// Fingerprint commits to a name, the committing ledger and a salt.
// Format: name bytes || ledger (32) || salt (32). The trailing fields are
// fixed width so the packed encoding is unambiguous.
func Fingerprint(name string, ledger Address, salt Hash) Hash {
	return Sum([]byte(name), ledger[:], salt[:])
}

// OwnerDigest commits to a single eventual owner.
func OwnerDigest(owner Address, salt Hash) Hash {
	return Sum(owner[:], salt[:])
}

// OwnersDigest commits to an ordered owner list.
// Order is significant: the same set in another order yields another digest.
func OwnersDigest(owners []Address, salt Hash) Hash {
	parts := make([][]byte, 0, len(owners)+1)
	for i := range owners {
		parts = append(parts, owners[i][:])
	}
	parts = append(parts, salt[:])

	return Sum(parts...)
}

// LabelHash hashes a single name label.
func LabelHash(label string) Hash {
	return Sum([]byte(label))
}

// ChildNode derives the namespace node for label under parent.
func ChildNode(parent Hash, label string) Hash {
	lh := LabelHash(label)
	return Sum(parent[:], lh[:])
}

// Namehash derives the node of a dotted domain, walking labels right to left
// from the zero root. The empty domain is the zero root.
func Namehash(domain string) Hash {
	node := ZeroHash
	if domain == "" {
		return node
	}

	labels := strings.Split(domain, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		node = ChildNode(node, labels[i])
	}

	return node
}
