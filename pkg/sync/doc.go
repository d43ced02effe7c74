/*
The sync package mirrors one source directory onto the backup volume
while archiving the previous versions of anything it would overwrite or
delete.

Each source keeps its path structure relative to the filesystem root, so
/etc lands at <destination root>/etc. Before the transfer touches a
destination entry that differs from the source, the entry's current
contents are copied into the day's snapshot directory at the same
relative path (pre-image capture). Deletions are deferred until the rest
of the transfer has completed, so an interrupted run never leaves the
destination half-emptied.

The heavy lifting is delegated to rsync. This package's job is to build
the right invocation and to decide what a failure means; it deliberately
doesn't reimplement file transfer.
*/
package sync
