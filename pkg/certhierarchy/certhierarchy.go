// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keychain.
//
// go-keychain is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package certhierarchy builds a forest of parent-child certificate
// relationships from an unordered set of certificate primitives (spec.md
// §4.3). The two-pass insert-then-prune algorithm tolerates any insertion
// order and incomplete input sets.
package certhierarchy

import (
	"fmt"

	"github.com/automatethethings/evse-security/pkg/certprimitive"
	"github.com/automatethethings/evse-security/pkg/evsetypes"
)

// ErrInvalidState reports an impossible hierarchy configuration (a root
// being reparented twice, a non-root claiming a hash it cannot have). It is
// a programmer-error signal, not a recoverable condition (spec.md §7).
type ErrInvalidState struct {
	Reason string
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("certhierarchy: invalid state: %s", e.Reason)
}

// Node is one vertex of the hierarchy: a certificate, its resolved issuer
// (equal to itself when self-signed), its issuer-bound hash (absent for
// permanent orphans), and its children.
type Node struct {
	CP                 *certprimitive.CP
	Issuer             *certprimitive.CP
	Hash               *evsetypes.CertificateHashData
	IsSelfSigned       bool
	IsPermanentOrphan  bool
	Children           []*Node
}

// CH is the forest built from a set of certificate primitives.
type CH struct {
	roots []*Node
}

// Build constructs a hierarchy from an unordered slice of certificate
// primitives. Insertion order does not affect the resulting set of roots or
// parent-child edges (only sibling ordering may differ).
func Build(cps []*certprimitive.CP) *CH {
	ch := &CH{}
	for _, cp := range cps {
		ch.insert(cp)
	}
	ch.prune()
	return ch
}

func (ch *CH) insert(cp *certprimitive.CP) {
	if cp.IsSelfSigned() {
		hash, err := cp.CertificateHashData()
		node := &Node{CP: cp, Issuer: cp, IsSelfSigned: true}
		if err == nil {
			node.Hash = &hash
		}
		ch.roots = append(ch.roots, node)
		return
	}

	// Case 1: an existing top-level node is actually a child of the one
	// being inserted (it was a temporary orphan waiting for its issuer).
	for i, root := range ch.roots {
		if root.IsSelfSigned || root.IsPermanentOrphan {
			continue
		}
		if root.CP.IsChild(cp) {
			newNode := &Node{CP: cp, Issuer: nil}
			ch.reparent(root, newNode)
			remaining := make([]*Node, 0, len(ch.roots))
			remaining = append(remaining, ch.roots[:i]...)
			remaining = append(remaining, ch.roots[i+1:]...)
			remaining = append(remaining, newNode)
			ch.roots = remaining
			return
		}
	}

	// Case 2: the new CP's issuer is already somewhere in the forest.
	if parentNode := ch.findNode(func(n *Node) bool { return cp.IsChild(n.CP) }); parentNode != nil {
		hash, err := cp.CertificateHashDataWithParent(parentNode.CP)
		node := &Node{CP: cp, Issuer: parentNode.CP}
		if err == nil {
			node.Hash = &hash
		}
		parentNode.Children = append(parentNode.Children, node)
		return
	}

	// Case 3: neither — append as a temporary orphan.
	ch.roots = append(ch.roots, &Node{CP: cp})
}

// reparent moves root (and its subtree, unchanged) to become a child of newNode.
func (ch *CH) reparent(root *Node, newNode *Node) {
	root.Issuer = newNode.CP
	if hash, err := root.CP.CertificateHashDataWithParent(newNode.CP); err == nil {
		root.Hash = &hash
	}
	newNode.Children = append(newNode.Children, root)
}

// prune re-walks the roots once all insertions are done, promoting any
// temporary orphan whose issuer has since appeared and marking the rest as
// permanent orphans.
func (ch *CH) prune() {
	remaining := make([]*Node, 0, len(ch.roots))
	for _, root := range ch.roots {
		if root.IsSelfSigned || root.IsPermanentOrphan {
			remaining = append(remaining, root)
			continue
		}
		if parentNode := ch.findNodeExcluding(root, func(n *Node) bool { return root.CP.IsChild(n.CP) }); parentNode != nil {
			hash, err := root.CP.CertificateHashDataWithParent(parentNode.CP)
			root.Issuer = parentNode.CP
			if err == nil {
				root.Hash = &hash
			}
			parentNode.Children = append(parentNode.Children, root)
			continue
		}
		root.IsPermanentOrphan = true
		root.Hash = nil
		remaining = append(remaining, root)
	}
	ch.roots = remaining
}

// findNode does a pre-order search over the whole forest for the first node
// satisfying pred.
func (ch *CH) findNode(pred func(*Node) bool) *Node {
	var found *Node
	ch.Walk(func(n *Node) bool {
		if pred(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

func (ch *CH) findNodeExcluding(exclude *Node, pred func(*Node) bool) *Node {
	var found *Node
	ch.Walk(func(n *Node) bool {
		if n == exclude {
			return true
		}
		if pred(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// Walk visits every node in the forest in pre-order, depth first. Visiting
// stops early if fn returns false.
func (ch *CH) Walk(fn func(*Node) bool) {
	var visit func([]*Node) bool
	visit = func(nodes []*Node) bool {
		for _, n := range nodes {
			if !fn(n) {
				return false
			}
			if !visit(n.Children) {
				return false
			}
		}
		return true
	}
	visit(ch.roots)
}

// Roots returns the top-level nodes of the forest.
func (ch *CH) Roots() []*Node {
	return ch.roots
}

// IsRoot reports whether cp is self-signed and present at the top level.
func (ch *CH) IsRoot(cp *certprimitive.CP) bool {
	for _, r := range ch.roots {
		if r.IsSelfSigned && r.CP.Equal(cp) {
			return true
		}
	}
	return false
}

// FindByHash returns the first node whose stored hash matches chd.
func (ch *CH) FindByHash(chd evsetypes.CertificateHashData, caseInsensitive bool) *Node {
	var found *Node
	ch.Walk(func(n *Node) bool {
		if n.Hash == nil {
			return true
		}
		match := n.Hash.Equal(chd)
		if caseInsensitive {
			match = n.Hash.EqualFold(chd)
		}
		if match {
			found = n
			return false
		}
		return true
	})
	return found
}

// FindByHashMulti returns every node whose stored hash matches chd (used
// when the same intermediate is present in multiple bundles).
func (ch *CH) FindByHashMulti(chd evsetypes.CertificateHashData, caseInsensitive bool) []*Node {
	var found []*Node
	ch.Walk(func(n *Node) bool {
		if n.Hash == nil {
			return true
		}
		match := n.Hash.Equal(chd)
		if caseInsensitive {
			match = n.Hash.EqualFold(chd)
		}
		if match {
			found = append(found, n)
		}
		return true
	})
	return found
}

// ContainsHash reports whether any node's stored hash matches chd.
func (ch *CH) ContainsHash(chd evsetypes.CertificateHashData) bool {
	return ch.FindByHash(chd, false) != nil
}

// CollectDescendants returns all transitive children of cp's node, in pre-order.
func (ch *CH) CollectDescendants(cp *certprimitive.CP) []*certprimitive.CP {
	node := ch.findNode(func(n *Node) bool { return n.CP.Equal(cp) })
	if node == nil {
		return nil
	}
	var out []*certprimitive.CP
	var visit func([]*Node)
	visit = func(nodes []*Node) {
		for _, n := range nodes {
			out = append(out, n.CP)
			visit(n.Children)
		}
	}
	visit(node.Children)
	return out
}

// FindRoot walks up from leaf to its self-signed ancestor, or nil if leaf is
// not in the hierarchy or terminates in a permanent orphan.
func (ch *CH) FindRoot(leaf *certprimitive.CP) *certprimitive.CP {
	node := ch.findNode(func(n *Node) bool { return n.CP.Equal(leaf) })
	if node == nil {
		return nil
	}
	for {
		if node.IsSelfSigned {
			return node.CP
		}
		if node.IsPermanentOrphan || node.Issuer == nil {
			return nil
		}
		parent := ch.findNode(func(n *Node) bool { return n.CP.Equal(node.Issuer) })
		if parent == nil {
			return nil
		}
		node = parent
	}
}

// GetCertificateHash returns the stored CHD for cp: the self-hash when
// self-signed, the issuer-bound hash otherwise. Fails when cp's issuer is
// not resolvable in the hierarchy (a permanent orphan, or cp not found).
func (ch *CH) GetCertificateHash(cp *certprimitive.CP) (evsetypes.CertificateHashData, error) {
	node := ch.findNode(func(n *Node) bool { return n.CP.Equal(cp) })
	if node == nil || node.Hash == nil {
		return evsetypes.CertificateHashData{}, fmt.Errorf("certhierarchy: no certificate hash found for %s", cp.CommonName())
	}
	return *node.Hash, nil
}
