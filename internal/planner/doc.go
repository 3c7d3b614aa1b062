// Package planner computes what activating a destroot into the live
// filesystem will do, before anything is touched.
//
// An activation plan lists the directories the destroot needs under the
// filesystem root, the symlinks to create (each pointing into the unit's
// "current" destroot link), the existing entries those links replace, and
// the conflicts with files owned by other units.
//
// Paths come in two forms: the logical path recorded in the database
// ("/usr/bin/foo") and the real path on disk (filesystem root + logical
// path). They are equal when the root is "/".
package planner
