// Package influxdb ships depot-core time-series points to InfluxDB v2.
//
// The server records one point per authentication event (register, login,
// refresh, logout) so operators can chart sign-in volume and failure rates
// per outcome. Writes are non-blocking and batched by the official
// influxdb-client-go library. A rejected batch is logged and counted in
// Stats rather than returned to the caller, so sign-in never waits on
// InfluxDB. Each point is tagged with the host name as "instance".
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, logger)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without time-series output
//	}
//	defer client.Close()
//
//	client.WriteAuthEvent(influxdb.AuthEventPoint{
//	    Event: "login", Outcome: "success", UserID: 42, RoleID: 3, At: time.Now(),
//	})
//
// All methods are safe for concurrent use. Points written after Close are
// dropped and counted.
package influxdb
