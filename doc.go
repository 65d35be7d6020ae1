// Package comptree instantiates a tree of typed components from a
// hierarchical configuration store.
//
// It offers:
// - type registration with ancestors and a generic Definition
// - construct, configure and post-configure phases driven per request,
// with cycle detection and rollback of failed requests
// - ownership based destruction in reverse acquisition order
// - resources: named typed values declared by components and looked up by
// distance in the component tree
// - synchronous notifications of resource changes
//
// A component group in the store names its type in the "type" parameter:
//
//	world:
//	  type: World
//	  arena:
//	    type: Arena
//	    size: "10"
package comptree
