package config

type WorkerKeyStruct struct {
	PersistAttemptsQueue  string
	PersistSnapshotsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAttemptsQueue:  "persist_attempts_queue",
	PersistSnapshotsQueue: "persist_snapshots_queue",
}
