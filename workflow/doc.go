/*
Package workflow defines the collaborative workflow types and primitives.

# Workflows

A workflow is one collaborative run definition of the deployment's fixed
workload. It is created and owned by a single party, the creator, and names
an ordered set of collaborators. Each collaborator must approve before the
creator may run the workflow.

Workflows are identified by a workflow ID that is unique per creator. The
same workflow ID may exist for two different creators; they are unrelated.

# Parties and ownership

Every record except an execution result belongs to exactly one party:
workflows to their creator, approvals to their approver, and datasets and
wrapped keys to the party that uploaded them. Storage backends keep each
party's records in a separate namespace and no query ever crosses parties.

# Datasets and wrapped keys

A dataset is a reference to an encrypted blob in object storage. Its wrapped
key is a reference to the data key, wrapped for the executor, and shares the
dataset's ID. The two are written independently and joined at run time; a
dataset without a key (or a key without a dataset) is simply not part of a
run.

# Lifecycle

A workflow starts in StatusPendingApproval, moves to StatusRunning while the
executor is working on it, and ends in StatusCompleted or StatusFailed.
StatusRejected is a terminal state that is only reachable when the
deployment enables rejection on a negative approval. Status never moves
backwards.
*/
package workflow
