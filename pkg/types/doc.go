// Package types defines the storage adapter interface, the entity data model,
// the v5 document envelope, configuration, and the error taxonomy shared by
// every boardstore package.
//
// Board structure never owns entity content: rows hold ordered entity ids per
// column and entities live in a single flat collection. Relationships link an
// entity to a tag, a person, or another entity and are indexed on both ends.
package types
