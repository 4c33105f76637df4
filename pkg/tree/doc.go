/*
Package tree walks directory trees and describes their contents.

It provides the two building blocks of the sync algorithm:

 1. The size probe (FileSize, TreeSize, SizesEqual), which is used to decide
    cheaply whether anything changed. Equality is based on byte counts only:
    two different files or trees with the same total size are considered
    equal. A Comparator set to CompareModTime compares individual files by
    size and modification time instead, and disables the tree-level
    shortcut.
 2. The tree differ (Walk, BuildManifest, Tail), which lists the directories
    and files of a tree in terms of paths relative to its root. These "tails"
    are the join key between a source tree and its target.

Only directories and regular files are considered. Symbolic links and
special files below a root are neither followed nor listed, on either side
of a sync. A root that is itself a link to a directory is walked through.
*/
package tree
