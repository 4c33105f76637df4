/*
The sync package implements treesync's mirroring algorithm. A pass makes the
target directory of a job look like its source directory.

A pass goes through the following steps:
 1. Probe totals -- The total size of the source and target trees is compared.
    If they're the same, the pass ends without touching anything. This makes
    the common "nothing changed" case cheap, at the cost of missing changes
    that happen to keep the total size identical.
 2. Materialize directories -- The source is walked parents first. Every
    source directory is created in the target if it's missing.
 3. Copy files -- Each source file is copied if the target doesn't have it, or
    if the target's copy differs according to the job's comparator (by default
    only the sizes are compared). Copies replace the target file atomically.
 4. Clean -- Directories and files in the target that weren't seen in the
    source walk are removed.

Failures are handled per entry: a file that can't be copied or removed is
logged and skipped, and the rest of the pass carries on. Entries that vanish
while the pass is running are skipped silently since the next pass will see
the new state.
*/
package sync
