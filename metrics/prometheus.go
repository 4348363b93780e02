package metrics

// NamespacePrefix is the namespace of all clinic Prometheus metrics.
const NamespacePrefix = "clinic"
