// Package catalog holds the registry of routable handlers. A Catalog is an
// immutable snapshot: descriptors and the domain and intent indexes are built
// once at load time and replaced wholesale on refresh through a Holder.
package catalog
