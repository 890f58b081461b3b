// Package client — управление orchestration instances.
//
// Client используется HTTP API, scheduler'ом и тестами:
//
//   - StartNew — создать top-level instance и уведомить worker
//   - GetStatus, History — состояние instance и его журнал
//   - ListActiveInstances — ленивый обход незавершённых instances
//   - Terminate — запрос остановки (NoOp для пустого, неизвестного или финального ID)
//
// Client не выполняет orchestration сам: он только пишет в хранилище
// и публикует уведомления instance.work.
package client
